package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// clearCredentialEnv keeps the developer's own .env variables from leaking
// into assertions. t.Setenv also restores the previous values on cleanup.
func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"BAIDU_API_KEY", "BAIDU_SECRET_KEY", "LARK_APP_ID", "LARK_APP_SECRET"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearCredentialEnv(t)
	// Point at a path with no config file so only defaults apply.
	t.Setenv("INVOICES_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, filepath.Join(".", "invoices.db"), cfg.Database.Path)
	require.Equal(t, "internal/database/migrations", cfg.Database.MigrationsPath)
	require.Equal(t, "创建人", cfg.Remote.UploaderColumn)
	require.Equal(t, "收款人", cfg.Remote.BelongerColumn)
	require.Equal(t, "发票", cfg.Remote.InvoiceColumn)
	require.Equal(t, "审批后金额", cfg.Remote.AmountColumn)
	require.Equal(t, "审批备注", cfg.Remote.RemarksColumn)
	require.False(t, cfg.OCR.UseFallback)
	require.Empty(t, cfg.Remote.TableURL)
	require.Zero(t, cfg.Validation.BuyerNameTolerance)
}

func TestLoadConfigFile(t *testing.T) {
	clearCredentialEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "/var/lib/invoices/invoices.db"
migrations_path = "/opt/invoices/migrations"

[ocr]
api_key = "file-key"
secret_key = "file-secret"
use_fallback = true

[remote]
app_id = "cli_app"
app_secret = "cli_secret"
table_url = "https://example.feishu.cn/base/AppTok?table=tblabc"
uploader_column = "提交人"

[validation]
buyer_name = "某某科技有限公司"
buyer_name_tolerance = 2
forbidden_keywords = ["会议费", "礼品"]
`), 0o644))
	t.Setenv("INVOICES_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "/var/lib/invoices/invoices.db", cfg.Database.Path)
	require.Equal(t, "/opt/invoices/migrations", cfg.Database.MigrationsPath)
	require.Equal(t, "file-key", cfg.OCR.APIKey)
	require.Equal(t, "file-secret", cfg.OCR.SecretKey)
	require.True(t, cfg.OCR.UseFallback)
	require.Equal(t, "cli_app", cfg.Remote.AppID)
	require.Equal(t, "cli_secret", cfg.Remote.AppSecret)
	require.Equal(t, "https://example.feishu.cn/base/AppTok?table=tblabc", cfg.Remote.TableURL)
	require.Equal(t, "提交人", cfg.Remote.UploaderColumn)
	// Keys absent from the file keep their defaults.
	require.Equal(t, "收款人", cfg.Remote.BelongerColumn)
	require.Equal(t, "某某科技有限公司", cfg.Validation.BuyerName)
	require.Equal(t, 2, cfg.Validation.BuyerNameTolerance)
	require.Equal(t, []string{"会议费", "礼品"}, cfg.Validation.ForbiddenKeywords)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("INVOICES_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
	t.Setenv("INVOICES_DATABASE_MIGRATIONS_PATH", "/srv/migrations")
	t.Setenv("INVOICES_REMOTE_TABLE_URL", "https://example.feishu.cn/base/EnvTok?table=tblenv")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/srv/migrations", cfg.Database.MigrationsPath)
	require.Equal(t, "https://example.feishu.cn/base/EnvTok?table=tblenv", cfg.Remote.TableURL)
}

func TestLoadCredentialEnvWins(t *testing.T) {
	clearCredentialEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[ocr]
api_key = "file-key"

[remote]
app_id = "file-app"
`), 0o644))
	t.Setenv("INVOICES_CONFIG", path)
	t.Setenv("BAIDU_API_KEY", "env-key")
	t.Setenv("LARK_APP_ID", "env-app")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.OCR.APIKey)
	require.Equal(t, "env-app", cfg.Remote.AppID)
	// Unset credentials fall back to the file value.
	require.Equal(t, "", cfg.OCR.SecretKey)
}
