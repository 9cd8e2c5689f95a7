package remediation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreview(t *testing.T) {
	assert.Empty(t, Preview("a.yml", "same\n", "same\n"))

	var before, after strings.Builder
	for i := 0; i < 20; i++ {
		line := "line" + string(rune('a'+i)) + "\n"
		before.WriteString(line)
		if i == 10 {
			after.WriteString("changed\n")
			continue
		}
		after.WriteString(line)
	}

	diff := Preview("stacks/web/docker-compose.yml", before.String(), after.String())
	assert.True(t, strings.HasPrefix(diff, "--- a/stacks/web/docker-compose.yml\n+++ b/stacks/web/docker-compose.yml\n"))
	assert.Contains(t, diff, "-linek\n+changed\n")
	assert.Contains(t, diff, " lineh\n")
	assert.Contains(t, diff, " linen\n")
	assert.NotContains(t, diff, "linea")
	assert.NotContains(t, diff, "linet")
	assert.Contains(t, diff, "@@ ... @@\n")
}
