package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/cli"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

const testConfig = `
[[provider]]
name = "crm"
type = "mock_crm"

[[binding]]
provider = "crm"
capabilities = ["CRM_CONTACTS"]
credentials_ref = "crm"

[[credential]]
ref = "crm"
values = { api_key = "test-key" }
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actiongate.toml")
	gt.NoError(t, os.WriteFile(path, []byte(content), 0o600)).Required()
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	restore := cli.SetOutput(&buf)
	defer restore()

	err := cli.Run(context.Background(), append([]string{"actiongate", "--log-output", "stderr"}, args...), "test")
	return buf.String(), err
}

func TestRun_ValidateCommand(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		_, err := run(t, "validate", "--config", writeConfig(t, testConfig))
		gt.NoError(t, err)
	})

	t.Run("credentials accepted", func(t *testing.T) {
		_, err := run(t, "validate", "--config", writeConfig(t, testConfig), "--check-credentials")
		gt.NoError(t, err)
	})

	t.Run("credentials rejected", func(t *testing.T) {
		content := strings.Replace(testConfig, `"test-key"`, `"invalid"`, 1)
		_, err := run(t, "validate", "--config", writeConfig(t, content), "--check-credentials")
		gt.Value(t, err).NotNil()
	})

	t.Run("invalid config", func(t *testing.T) {
		content := strings.Replace(testConfig, `"CRM_CONTACTS"`, `"FAX"`, 1)
		_, err := run(t, "validate", "--config", writeConfig(t, content))
		gt.Value(t, err).NotNil()
	})

	t.Run("missing config", func(t *testing.T) {
		_, err := run(t, "validate", "--config", filepath.Join(t.TempDir(), "none.toml"))
		gt.Value(t, err).NotNil()
	})
}

func TestRun_ExecCommand(t *testing.T) {
	t.Run("success prints result", func(t *testing.T) {
		out, err := run(t, "exec",
			"--config", writeConfig(t, testConfig),
			"--operation", "crm.contact.create",
			"--tenant", "tenant-a",
			"--param", "email=a@example.com",
			"--param", "first_name=Ada",
			"--correlation-id", "corr-cli")
		gt.NoError(t, err).Required()

		var result model.ActionResult
		gt.NoError(t, json.Unmarshal([]byte(out), &result)).Required()
		gt.Value(t, result.Status).Equal(types.ActionStatusSuccess)
		gt.Value(t, result.TenantID).Equal(types.TenantID("tenant-a"))
		gt.Value(t, result.CorrelationID).Equal(types.CorrelationID("corr-cli"))
		gt.Value(t, result.RetryCount).Equal(1)
	})

	t.Run("failure prints error envelope", func(t *testing.T) {
		out, err := run(t, "exec",
			"--config", writeConfig(t, testConfig),
			"--operation", "crm.contact.create",
			"--tenant", "tenant-a")
		gt.Value(t, err).NotNil()

		var resp model.ErrorResponse
		gt.NoError(t, json.Unmarshal([]byte(out), &resp)).Required()
		gt.Value(t, resp.Error).NotNil()
		gt.Value(t, resp.Error.Code).Equal(types.ErrorCodeValidation)
	})

	t.Run("bad param", func(t *testing.T) {
		_, err := run(t, "exec",
			"--config", writeConfig(t, testConfig),
			"--operation", "crm.contact.create",
			"--tenant", "tenant-a",
			"--param", "novalue")
		gt.Value(t, err).NotNil()
	})
}

func TestRun_ProvidersCommand(t *testing.T) {
	out, err := run(t, "providers", "--config", writeConfig(t, testConfig), "--health")
	gt.NoError(t, err).Required()

	gt.Bool(t, strings.Contains(out, "mock_crm")).True()
	gt.Bool(t, strings.Contains(out, "(global)")).True()
	gt.Bool(t, strings.Contains(out, "healthy")).True()
	gt.Bool(t, strings.Contains(out, "CRM_CONTACTS")).True()
}

func TestParseParams(t *testing.T) {
	t.Run("merges json and pairs", func(t *testing.T) {
		params, err := cli.ParseParams(`{"email":"a@example.com","limit":5}`,
			[]string{"limit=10", "name=Ada", "active=true", "tags=[\"x\"]"})
		gt.NoError(t, err).Required()

		gt.Value(t, params["email"]).Equal(any("a@example.com"))
		gt.Value(t, params["limit"]).Equal(any(float64(10)))
		gt.Value(t, params["name"]).Equal(any("Ada"))
		gt.Value(t, params["active"]).Equal(any(true))
		gt.Value(t, params["tags"]).Equal(any([]any{"x"}))
	})

	t.Run("value containing equals", func(t *testing.T) {
		params, err := cli.ParseParams("", []string{"query=a=b"})
		gt.NoError(t, err).Required()
		gt.Value(t, params["query"]).Equal(any("a=b"))
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := cli.ParseParams("[1,2]", nil)
		gt.Value(t, err).NotNil()
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := cli.ParseParams("", []string{"=x"})
		gt.Value(t, err).NotNil()
	})
}
