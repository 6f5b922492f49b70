package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOptions(t *testing.T) {
	dst := map[string]string{}
	ParseOptions(dst, "ro,allow_other,fsname=patchfs")

	assert.Equal(t, map[string]string{
		"ro":          "",
		"allow_other": "",
		"fsname":      "patchfs",
	}, dst)
}

func TestParseOptionsIgnoresBlankEntries(t *testing.T) {
	dst := map[string]string{}
	ParseOptions(dst, "ro,,allow_other")

	assert.Equal(t, map[string]string{"ro": "", "allow_other": ""}, dst)
}
