package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type IpsTest struct {
	suite.Suite
	dir string
}

func TestIpsSuite(t *testing.T) {
	suite.Run(t, new(IpsTest))
}

func (t *IpsTest) SetupTest() {
	t.dir = t.T().TempDir()
}

func (t *IpsTest) writeFile(name string, data []byte) string {
	p := filepath.Join(t.dir, name)
	require.NoError(t.T(), os.WriteFile(p, data, 0o644))
	return p
}

func (t *IpsTest) TestEofOnlyPatchScenario4() {
	source := []byte{0xAA}
	sourcePath := t.writeFile("source.bin", source)
	patchData := append([]byte("PATCH"), 0x45, 0x4F, 0x46)
	patchPath := t.writeFile("patch.ips", patchData)

	p, err := NewIps(patchPath, sourcePath)
	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 1, p.TargetSize())

	target, err := p.Materialise()
	require.NoError(t.T(), err)
	assert.Equal(t.T(), source, target)
}

func (t *IpsTest) TestRleAndTruncationScenario5() {
	source := []byte{0x00}
	sourcePath := t.writeFile("source.bin", source)

	var data []byte
	data = append(data, []byte("PATCH")...)
	data = append(data, 0x00, 0x00, 0x00) // offset 0
	data = append(data, 0x00, 0x00)       // size 0 -> RLE record
	data = append(data, 0x00, 0x04)       // rle_size 4
	data = append(data, 0xFF)             // value
	data = append(data, 0x45, 0x4F, 0x46) // "EOF"
	data = append(data, 0x00, 0x00, 0x02) // truncation size 2

	patchPath := t.writeFile("patch.ips", data)

	p, err := NewIps(patchPath, sourcePath)
	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 2, p.TargetSize())

	target, err := p.Materialise()
	require.NoError(t.T(), err)
	assert.Equal(t.T(), []byte{0xFF, 0xFF}, target)
}

func (t *IpsTest) TestExtentLawWithoutTruncation() {
	source := []byte{0x00, 0x00}
	sourcePath := t.writeFile("source.bin", source)

	var data []byte
	data = append(data, []byte("PATCH")...)
	data = append(data, 0x00, 0x00, 0x05) // offset 5
	data = append(data, 0x00, 0x03)       // size 3
	data = append(data, 0x01, 0x02, 0x03) // literal payload
	data = append(data, 0x45, 0x4F, 0x46) // "EOF", no truncation follows

	patchPath := t.writeFile("patch.ips", data)

	p, err := NewIps(patchPath, sourcePath)
	require.NoError(t.T(), err)
	// max(source_len=2, offset+size=5+3=8) = 8
	assert.EqualValues(t.T(), 8, p.TargetSize())

	target, err := p.Materialise()
	require.NoError(t.T(), err)
	require.Len(t.T(), target, 8)
	assert.Equal(t.T(), []byte{0x01, 0x02, 0x03}, target[5:8])
}

func (t *IpsTest) TestLiteralRecordOverwritesSourceBytes() {
	source := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	sourcePath := t.writeFile("source.bin", source)

	var data []byte
	data = append(data, []byte("PATCH")...)
	data = append(data, 0x00, 0x00, 0x01) // offset 1
	data = append(data, 0x00, 0x02)       // size 2
	data = append(data, 0xBB, 0xCC)
	data = append(data, 0x45, 0x4F, 0x46)

	patchPath := t.writeFile("patch.ips", data)

	p, err := NewIps(patchPath, sourcePath)
	require.NoError(t.T(), err)

	target, err := p.Materialise()
	require.NoError(t.T(), err)
	assert.Equal(t.T(), []byte{0xAA, 0xBB, 0xCC, 0xAA}, target)
}
