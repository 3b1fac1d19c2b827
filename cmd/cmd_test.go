package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/cache"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/enrichment"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

func init() {
	color.NoColor = true
}

func sampleResult() *enrichment.Result {
	return &enrichment.Result{
		Observables: []types.DetectedObservable{
			{
				Type:          types.ObservableDomain,
				Value:         "evil[.]example[.]com",
				RefangedValue: "evil.example.com",
				IsDefanged:    true,
				Found:         true,
				PlatformMatches: []types.PlatformMatch{
					{PlatformID: "cti", EntityID: "d1", EntityType: "Domain-Name"},
				},
			},
			{
				Type:            types.ObservableFile,
				HashKind:        types.HashMD5,
				Value:           "d41d8cd98f00b204e9800998ecf8427e",
				RefangedValue:   "d41d8cd98f00b204e9800998ecf8427e",
				PlatformMatches: []types.PlatformMatch{},
			},
		},
		Entities: []types.DetectedEntity{
			{Type: "Intrusion-Set", Name: "APT28", MatchedValue: "Fancy Bear", Found: true, PlatformMatches: []types.PlatformMatch{}},
		},
	}
}

func TestValidateFormat(t *testing.T) {
	for _, f := range []string{"text", "json", "yaml"} {
		assert.NoError(t, validateFormat(f))
	}
	assert.Error(t, validateFormat("csv"))
}

func TestWriteStructured(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		done, err := writeStructured(&buf, formatJSON, sampleResult())
		require.NoError(t, err)
		assert.True(t, done)
		assert.Contains(t, buf.String(), `"refanged_value": "evil.example.com"`)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		done, err := writeStructured(&buf, formatYAML, sampleResult())
		require.NoError(t, err)
		assert.True(t, done)

		var decoded enrichment.Result
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		require.Len(t, decoded.Observables, 2)
		assert.Equal(t, types.HashMD5, decoded.Observables[1].HashKind)
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		done, err := writeStructured(&buf, formatText, sampleResult())
		require.NoError(t, err)
		assert.False(t, done)
		assert.Zero(t, buf.Len())
	})
}

func TestPrintScanResult(t *testing.T) {
	var buf bytes.Buffer
	printScanResult(&buf, sampleResult())
	out := buf.String()

	assert.Contains(t, out, "Observables (2)")
	assert.Contains(t, out, "-> evil.example.com")
	assert.Contains(t, out, "StixFile/MD5")
	assert.Contains(t, out, `APT28 (as "Fancy Bear")`)
	assert.Contains(t, out, "2 of 3 detections found on a platform")

	buf.Reset()
	printScanResult(&buf, &enrichment.Result{})
	assert.Equal(t, "No observables detected\n", buf.String())
}

func TestPrintCacheStats(t *testing.T) {
	var buf bytes.Buffer
	printCacheStats(&buf, cache.Stats{
		Entries: []cache.EntryStats{
			{PlatformID: "cti", EntityType: "Malware", Entities: 12, LastRefreshedAt: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)},
			{PlatformID: "cti", EntityType: "Campaign", LastError: "opencti returned status 502", Stale: true},
		},
		TotalEntities: 12,
	})
	out := buf.String()
	assert.Contains(t, out, "2026-05-01 09:30:00")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "opencti returned status 502")
	assert.Contains(t, out, "12 entities cached")
}

func TestReadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("beacon to 8.8.8.8"), 0o600))

	got, err := readInput(path)
	require.NoError(t, err)
	assert.Equal(t, "beacon to 8.8.8.8", got)

	_, err = readInput(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestScanCommandOffline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("C2: hxxp://evil[.]example[.]com/gate.php"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"scan", "--output", "json", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), `"refanged_value": "http://evil.example.com/gate.php"`)
}

func TestResolveCommandWithoutPlatforms(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"resolve", "intrusion-set--1"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil); rootCmd.SetErr(nil) })

	err := rootCmd.Execute()
	assert.ErrorIs(t, err, platforms.ErrNoPlatforms)
}
