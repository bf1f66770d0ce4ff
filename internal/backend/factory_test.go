package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/internal/config"
	"saldo/internal/ledger"
	"saldo/internal/sheets/memory"
)

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	_, err = FromAppConfig(&config.Config{ExportBackend: "excel"})
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{
		ExportBackend:       config.ExportSheets,
		GoogleSpreadsheetID: "sheet-1",
		GoogleSheetName:     "Balances",
	})
	require.NoError(t, err)
	assert.Equal(t, SheetsBackend, cfg.Type)
	assert.Equal(t, "sheet-1", cfg.GoogleSpreadsheetID)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "memory", config: Config{Type: MemoryBackend}},
		{name: "unknown type", config: Config{Type: "excel"}, wantErr: true},
		{name: "sheets without id", config: Config{Type: SheetsBackend, GoogleServiceAccountJSON: "{}"}, wantErr: true},
		{name: "sheets without credentials", config: Config{Type: SheetsBackend, GoogleSpreadsheetID: "x"}, wantErr: true},
		{name: "sheets", config: Config{Type: SheetsBackend, GoogleSpreadsheetID: "x", GoogleServiceAccountFile: "sa.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFactory_Memory(t *testing.T) {
	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: MemoryBackend})
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, res.Writer)

	ref, err := res.Writer.WriteBalances(context.Background(), []ledger.Row{{UserID: "A", Balance: 1}})
	require.NoError(t, err)
	assert.Equal(t, "mem:1", ref)
}

func TestFactory_RejectsInvalidConfig(t *testing.T) {
	_, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: SheetsBackend})
	assert.Error(t, err)
}

func TestGetBackendTypeStrings(t *testing.T) {
	assert.Equal(t, []string{"memory", "sheets"}, GetBackendTypeStrings())
}
