package migrations_test

import (
	"testing"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"

	// trigger init() registration
	_ "github.com/fabber/sshgate/internal/migrations"
)

func TestAuditLogsCollectionCreated(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("audit_logs")
	if err != nil {
		t.Fatalf("audit_logs collection not found: %v", err)
	}
	if col.Type != core.CollectionTypeBase {
		t.Fatalf("expected base collection, got %q", col.Type)
	}

	assertFieldExists(t, col, "request_id", core.FieldTypeText, true)
	assertFieldExists(t, col, "action", core.FieldTypeText, true)
	assertFieldExists(t, col, "host", core.FieldTypeText, true)
	assertFieldExists(t, col, "subject", core.FieldTypeText, false)
	assertFieldExists(t, col, "status", core.FieldTypeSelect, true)
	assertFieldExists(t, col, "detail", core.FieldTypeJSON, false)
}

func TestAuditLogsCollectionIsWriteOnlyFromProcess(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("audit_logs")
	if err != nil {
		t.Fatal(err)
	}
	if col.ListRule != nil || col.ViewRule != nil || col.CreateRule != nil ||
		col.UpdateRule != nil || col.DeleteRule != nil {
		t.Fatal("audit_logs must have every API rule nil (no access via any client)")
	}
}

func assertFieldExists(t *testing.T, col *core.Collection, name, fieldType string, required bool) {
	t.Helper()
	f := col.Fields.GetByName(name)
	if f == nil {
		t.Errorf("collection %q: field %q not found", col.Name, name)
		return
	}
	if f.Type() != fieldType {
		t.Errorf("collection %q.%s: expected type %q, got %q", col.Name, name, fieldType, f.Type())
	}
	var gotRequired bool
	switch tf := f.(type) {
	case *core.TextField:
		gotRequired = tf.Required
	case *core.SelectField:
		gotRequired = tf.Required
	case *core.JSONField:
		gotRequired = tf.Required
	default:
		t.Errorf("collection %q.%s: unexpected field implementation %T", col.Name, name, f)
		return
	}
	if gotRequired != required {
		t.Errorf("collection %q.%s: expected required=%v, got %v", col.Name, name, required, gotRequired)
	}
}
