package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("MONITOR_MARKET_INTERVAL", "10m"); err != nil {
		t.Fatalf("Failed to set MONITOR_MARKET_INTERVAL: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("MONITOR_MARKET_INTERVAL")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Monitor.MarketInterval != 10*time.Minute {
		t.Errorf("Monitor.MarketInterval = %v, want %v", cfg.Monitor.MarketInterval, 10*time.Minute)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Monitor.SnapshotTimeout != 30*time.Second {
		t.Errorf("Monitor.SnapshotTimeout = %v, want 30s", cfg.Monitor.SnapshotTimeout)
	}

	want := map[string]float64{"ETH": 40, "USDC": 30, "LINK": 30}
	for symbol, pct := range want {
		if cfg.Monitor.DefaultAllocation[symbol] != pct {
			t.Errorf("DefaultAllocation[%s] = %v, want %v", symbol, cfg.Monitor.DefaultAllocation[symbol], pct)
		}
	}

	if len(cfg.Monitor.Tokens) != 3 {
		t.Errorf("len(Monitor.Tokens) = %d, want 3", len(cfg.Monitor.Tokens))
	}
}

func TestParseAllocation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]float64
	}{
		{
			name: "standard allocation",
			raw:  "ETH:40,USDC:30,LINK:30",
			want: map[string]float64{"ETH": 40, "USDC": 30, "LINK": 30},
		},
		{
			name: "whitespace and lowercase",
			raw:  " eth : 60 , usdc : 40 ",
			want: map[string]float64{"ETH": 60, "USDC": 40},
		},
		{
			name: "malformed entries skipped",
			raw:  "ETH:50,junk,USDC:abc,LINK:50",
			want: map[string]float64{"ETH": 50, "LINK": 50},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseAllocation(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("parseAllocation(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for symbol, pct := range tt.want {
				if got[symbol] != pct {
					t.Errorf("parseAllocation(%q)[%s] = %v, want %v", tt.raw, symbol, got[symbol], pct)
				}
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Monitor: MonitorConfig{
				MarketInterval:    5 * time.Minute,
				SweepInterval:     time.Minute,
				SnapshotTimeout:   30 * time.Second,
				DefaultAllocation: map[string]float64{"ETH": 40, "USDC": 30, "LINK": 30},
				Tokens:            []TokenConfig{{Symbol: "ETH", Decimals: 18}},
			},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() on valid config = %v", err)
	}

	t.Run("rejects allocation not summing to 100", func(t *testing.T) {
		cfg := valid()
		cfg.Monitor.DefaultAllocation = map[string]float64{"ETH": 40, "USDC": 30}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for allocation sum 70")
		}
	})

	t.Run("rejects empty token set", func(t *testing.T) {
		cfg := valid()
		cfg.Monitor.Tokens = nil
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for empty token set")
		}
	})

	t.Run("rejects non-positive market interval", func(t *testing.T) {
		cfg := valid()
		cfg.Monitor.MarketInterval = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero market interval")
		}
	})
}
