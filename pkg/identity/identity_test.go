package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMajor(t *testing.T) {
	cases := map[string]string{
		"v1.4.2":    "1",
		"2.0.0-rc1": "2",
		"10":        "10",
		"3+meta":    "3",
		"dev":       "0",
		"":          "0",
		"(devel)":   "0",
	}
	for in, want := range cases {
		assert.Equal(t, want, Major(in), in)
	}
}

func TestServerHeaderValue(t *testing.T) {
	id := New("", "v2.1.0", "abc123", "2026-01-02")
	assert.Equal(t, "davhost/2", id.Server())
	assert.Equal(t, "v2.1.0 (abc123) @ 2026-01-02", id.String())

	assert.Equal(t, "acme/0", New("acme", "", "", "").Server())
	assert.Equal(t, "acme/3", Identity{Product: "acme", Version: "3.1"}.Server())
}

func TestFromBuildKeepsExplicitValues(t *testing.T) {
	id := FromBuild("davhost", "v5.0.1", "deadbeef", "today")
	assert.Equal(t, "davhost/5", id.Server())
	assert.Equal(t, "deadbeef", id.Commit)
	assert.Equal(t, "today", id.BuildDate)
}
