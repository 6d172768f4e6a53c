package config

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school_mailman/internal/domain/mail"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "file::memory:")
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("TIMEZONE", "Europe/Berlin")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, "0 * * * *", cfg.CronSpecReminders)
	assert.Equal(t, "0 10 * * *", cfg.CronSpecNurturing)
	assert.Equal(t, 750, cfg.Email.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Email.MinInterval)
	assert.Equal(t, ProviderLog, cfg.Email.Provider)
	assert.True(t, cfg.Email.Sandbox)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing database url": {"DATABASE_URL": ""},
		"unknown driver":       {"DATABASE_DRIVER": "mysql"},
		"sendgrid without key": {"EMAIL_PROVIDER": "sendgrid", "SENDGRID_API_KEY": ""},
		"batch too large":      {"EMAIL_BATCH_SIZE": "751"},
		"batch zero":           {"EMAIL_BATCH_SIZE": "0"},
		"bad timezone":         {"TIMEZONE": "Mars/Olympus"},
		"telegram without id":  {"TELEGRAM_TOKEN": "token", "ADMIN_TELEGRAM_ID": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/mailman")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_BatchSizeAtProviderLimit(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mailman")
	t.Setenv("EMAIL_BATCH_SIZE", strconv.Itoa(mail.DefaultBatchLimit))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, mail.DefaultBatchLimit, cfg.Email.BatchSize)

	t.Setenv("EMAIL_BATCH_SIZE", strconv.Itoa(mail.DefaultBatchLimit+1))
	_, err = Load()
	assert.ErrorContains(t, err, "EMAIL_BATCH_SIZE must be within 1..750")
}
