package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPriceCommand(t *testing.T) {
	out, err := run(t, "price", "1000", "4.5", "3 Mo")
	require.NoError(t, err)
	assert.Equal(t, "988.91\n", out)

	_, err = run(t, "price", "1000", "4.5", "7 Mo")
	assert.Error(t, err)

	_, err = run(t, "price", "abc", "4.5", "3 Mo")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "desk dev")
}

func TestMonthEnds(t *testing.T) {
	today := time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC)

	got, err := monthEnds("2024-12", "2025-03", today)
	require.NoError(t, err)
	want := []string{"2024-12-31", "2025-01-31", "2025-02-28", "2025-03-31"}
	require.Len(t, got, len(want))
	for i, d := range got {
		assert.Equal(t, want[i], d.Format(time.DateOnly))
	}

	// 当月截断到 today，未来月份丢弃
	got, err = monthEnds("2025-07", "2025-10", today)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-07-31", got[0].Format(time.DateOnly))
	assert.Equal(t, "2025-08-22", got[1].Format(time.DateOnly))

	_, err = monthEnds("2025-05", "2025-01", today)
	assert.Error(t, err)
	_, err = monthEnds("2025/01", "2025-02", today)
	assert.Error(t, err)
}
