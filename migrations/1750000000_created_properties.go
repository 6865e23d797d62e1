package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("properties")

		collection.Fields.Add(
			&core.TextField{Name: "host_id", Required: true},
			&core.TextField{Name: "title", Required: true, Max: 200},
			&core.NumberField{Name: "max_guests", Required: true, OnlyInt: true, Min: types.Pointer(1.0)},
			&core.BoolField{Name: "is_active"},
			&core.TextField{Name: "price_per_night"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_properties_host", false, "host_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("properties")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
