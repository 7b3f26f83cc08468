package i18n

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestCatalog_Defaults(t *testing.T) {
	c, err := NewCatalog("", "", nil)
	require.NoError(t, err)

	assert.Equal(t, "en", c.Locale())
	assert.Equal(t, "Created", c.Translate("entity.create", nil, DomainAudit))
	assert.Equal(t, "entity", c.Translate("entity", nil, DomainAudit))
	assert.Equal(t, "Database", c.Translate("audit.DATABASE", nil, DomainMessages))
}

func TestCatalog_MissingKeyReturnsKey(t *testing.T) {
	c, err := NewCatalog("", "en", nil)
	require.NoError(t, err)

	assert.Equal(t, "audit.BILLING", c.Translate("audit.BILLING", nil, DomainMessages))
	assert.Equal(t, "entity.create", c.Translate("entity.create", nil, "unknown"))
}

func TestCatalog_Params(t *testing.T) {
	c, err := NewCatalog("", "en", nil)
	require.NoError(t, err)

	got := c.Translate("audit.invalid_category", map[string]string{
		"%type%":    "FOO",
		"%allowed%": "DATABASE, EXCEPTION",
	}, DomainMessages)
	assert.Equal(t, "Invalid type: FOO. Allowed types: DATABASE, EXCEPTION", got)

	// params also apply to unknown keys
	assert.Equal(t, "hello bob", c.Translate("hello %name%", map[string]string{"%name%": "bob"}, DomainMessages))
}

func TestCatalog_FilesOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Audit.fr.yaml", "entity.create: Créé\n")
	writeFile(t, dir, "Audit.de.yml", `
entity:
  create: Erstellt
`)
	writeFile(t, dir, "messages.de.yaml", `
audit:
  BILLING: Abrechnung
  DATABASE: Datenbank
`)
	writeFile(t, dir, "notes.txt", "ignored")

	c, err := NewCatalog(dir, "de", nil)
	require.NoError(t, err)

	assert.Equal(t, "Erstellt", c.Translate("entity.create", nil, DomainAudit))
	assert.Equal(t, "Updated", c.Translate("entity.update", nil, DomainAudit))
	assert.Equal(t, "Abrechnung", c.Translate("audit.BILLING", nil, DomainMessages))
	assert.Equal(t, "Datenbank", c.Translate("audit.DATABASE", nil, DomainMessages))
}

func TestCatalog_NewDomainFromFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "billing.en.yaml", "invoice.sent: Invoice %id% sent\n")

	c, err := NewCatalog(dir, "en", nil)
	require.NoError(t, err)
	assert.Equal(t, "Invoice 7 sent", c.Translate("invoice.sent", map[string]string{"%id%": "7"}, "billing"))
}

func TestCatalog_Errors(t *testing.T) {
	_, err := NewCatalog(filepath.Join(t.TempDir(), "missing"), "en", nil)
	assert.Error(t, err)

	dir := t.TempDir()
	writeFile(t, dir, "messages.en.yaml", "audit: [broken")
	_, err = NewCatalog(dir, "en", nil)
	assert.Error(t, err)
}

func TestCatalog_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "messages.en.yaml", "audit.BILLING: Billing\n")

	c, err := NewCatalog(dir, "en", nil)
	require.NoError(t, err)

	writeFile(t, dir, "messages.en.yaml", "audit: [broken")
	assert.Error(t, c.Reload())
	assert.Equal(t, "Billing", c.Translate("audit.BILLING", nil, DomainMessages))
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name       string
		wantDomain string
		wantLocale string
		wantOK     bool
	}{
		{name: "messages.en.yaml", wantDomain: "messages", wantLocale: "en", wantOK: true},
		{name: "Audit.fr.yml", wantDomain: "Audit", wantLocale: "fr", wantOK: true},
		{name: "my.domain.pt_BR.yaml", wantDomain: "my.domain", wantLocale: "pt_BR", wantOK: true},
		{name: "messages.yaml"},
		{name: ".en.yaml"},
		{name: "messages.en.json"},
		{name: "messages..yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			domain, locale, ok := parseFileName(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantDomain, domain)
			assert.Equal(t, tt.wantLocale, locale)
		})
	}
}

func TestCatalog_Watch(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCatalog(dir, "en", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	assert.Eventually(t, func() bool {
		writeFile(t, dir, "messages.en.yaml", "audit.BILLING: Billing\n")
		return c.Translate("audit.BILLING", nil, DomainMessages) == "Billing"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestCatalog_WatchWithoutDir(t *testing.T) {
	c, err := NewCatalog("", "en", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Watch(ctx))
}
