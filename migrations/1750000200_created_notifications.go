package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("notifications")

		// Recipients read their own notifications only.
		collection.ListRule = types.Pointer("recipient_id = @request.auth.id")
		collection.ViewRule = types.Pointer("recipient_id = @request.auth.id")
		collection.UpdateRule = types.Pointer("recipient_id = @request.auth.id")

		collection.Fields.Add(
			&core.TextField{Name: "kind", Required: true},
			&core.TextField{Name: "recipient_id", Required: true},
			&core.TextField{Name: "booking_id", Required: true},
			&core.JSONField{Name: "payload"},
			&core.TextField{Name: "dedup_key", Required: true},
			&core.BoolField{Name: "read"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_notifications_dedup", true, "dedup_key", "")
		collection.AddIndex("idx_notifications_recipient", false, "recipient_id, created", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("notifications")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
