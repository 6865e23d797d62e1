package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("bookings")

		// check_in and check_out are YYYY-MM-DD text so range filters compare lexically.
		collection.Fields.Add(
			&core.TextField{Name: "property_id", Required: true},
			&core.TextField{Name: "host_id", Required: true},
			&core.TextField{Name: "guest_id"},
			&core.TextField{Name: "check_in", Required: true, Pattern: `^\d{4}-\d{2}-\d{2}$`},
			&core.TextField{Name: "check_out", Required: true, Pattern: `^\d{4}-\d{2}-\d{2}$`},
			&core.NumberField{Name: "guests_count", Required: true, OnlyInt: true, Min: types.Pointer(1.0)},
			&core.TextField{Name: "total_amount", Required: true},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "confirmed", "cancelled", "completed"},
			},
			&core.TextField{Name: "payment_reference"},
			&core.TextField{Name: "cancellation_reason"},
			&core.TextField{Name: "refunded_amount"},
			&core.TextField{Name: "guest_name", Required: true},
			&core.EmailField{Name: "guest_email", Required: true},
			&core.TextField{Name: "guest_phone", Required: true},
			&core.TextField{Name: "special_requests", Max: 2000},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_bookings_property_dates", false, "property_id, check_in, check_out", "")
		collection.AddIndex("idx_bookings_status", false, "status, created", "")
		collection.AddIndex("idx_bookings_payment_reference", true, "payment_reference", "payment_reference != ''")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("bookings")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
