package series

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSQLite(t *testing.T, rows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE bars (
		symbol TEXT NOT NULL,
		time   TEXT NOT NULL,
		open   REAL, high REAL, low REAL, close REAL, volume REAL
	)`)
	require.NoError(t, err)

	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		ts := base.Add(time.Duration(i) * 5 * time.Minute).Format("2006-01-02 15:04:05")
		price := 100 + float64(i)
		_, err = db.Exec(`INSERT INTO bars VALUES (?, ?, ?, ?, ?, ?, ?)`, "XAUUSD", ts, price, price+1, price-1, price+0.5, nil)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO bars VALUES (?, ?, ?, ?, ?, ?, ?)`, "EURUSD", ts, 1, 1, 1, 1, 10)
		require.NoError(t, err)
	}
	return path
}

func TestSQLiteSourceLoad(t *testing.T) {
	path := seedSQLite(t, 10)

	s, err := SQLiteSource{Path: path, Table: "bars", Symbol: "XAUUSD"}.Load(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, s, 4)

	for i, bar := range s {
		want := 106 + float64(i)
		assert.InDelta(t, want, bar.Open, 1e-9, fmt.Sprintf("bar %d", i))
		assert.InDelta(t, want+0.5, bar.Close, 1e-9)
		assert.Zero(t, bar.Volume)
	}
	assert.True(t, s[0].Time.Before(s[3].Time))
	assert.Equal(t, 15*time.Minute, s[3].Time.Sub(s[0].Time))
}

func TestSQLiteSourceAllRows(t *testing.T) {
	path := seedSQLite(t, 3)

	s, err := SQLiteSource{Path: path, Table: "bars", Symbol: "EURUSD"}.Load(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, s, 3)
	assert.InDelta(t, 10, s[0].Volume, 1e-9)
}

func TestSQLiteSourceMissingTable(t *testing.T) {
	path := seedSQLite(t, 1)
	_, err := SQLiteSource{Path: path, Table: "candles"}.Load(context.Background(), 0)
	require.Error(t, err)
}
