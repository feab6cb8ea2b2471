package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// Creates the audit_logs collection every sshgate operation writes to
// (internal/audit.Write). No client ever has network access to this
// collection — sshgate is a stdio process, not an HTTP server — so the
// access rules just forbid all five operations outright rather than
// scoping them to a requesting user.
func init() {
	m.Register(func(app core.App) error {
		col := core.NewBaseCollection("audit_logs")

		col.Fields.Add(&core.TextField{Name: "request_id", Required: true})
		col.Fields.Add(&core.TextField{Name: "action", Required: true})
		col.Fields.Add(&core.TextField{Name: "host", Required: true})
		col.Fields.Add(&core.TextField{Name: "subject"})
		col.Fields.Add(&core.SelectField{
			Name:      "status",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"success", "failed"},
		})
		col.Fields.Add(&core.JSONField{Name: "detail"})
		col.Fields.Add(&core.AutodateField{Name: "created", OnCreate: true})
		col.Fields.Add(&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true})

		// No list/view/create/update/delete rule -> every operation is
		// forbidden from the (nonexistent) API side; only app.Save()
		// from within the process can write.
		col.ListRule = nil
		col.ViewRule = nil
		col.CreateRule = nil
		col.UpdateRule = nil
		col.DeleteRule = nil

		col.Indexes = []string{
			"CREATE INDEX idx_audit_logs_host ON audit_logs (host)",
			"CREATE INDEX idx_audit_logs_action ON audit_logs (action)",
			"CREATE INDEX idx_audit_logs_request_id ON audit_logs (request_id)",
		}

		return app.Save(col)
	}, func(app core.App) error {
		col, err := app.FindCollectionByNameOrId("audit_logs")
		if err != nil {
			return nil // already gone
		}
		return app.Delete(col)
	})
}
