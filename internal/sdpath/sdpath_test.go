package sdpath

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Local(t *testing.T) {
	p, err := Parse("local://jamies-macbook/Users/jamie/Documents/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, SchemeLocal, p.Scheme)
	assert.Equal(t, "jamies-macbook", p.DeviceSlug)
	assert.Equal(t, "/Users/jamie/Documents/report.pdf", p.AbsPath)
}

func TestParse_Content(t *testing.T) {
	p, err := Parse("content://a17f0000-5d00-4a00-8e00-c0de00000001")
	require.NoError(t, err)
	assert.Equal(t, SchemeContent, p.Scheme)
	assert.Equal(t, "a17f0000-5d00-4a00-8e00-c0de00000001", p.ContentUUID)
}

func TestParse_Cloud(t *testing.T) {
	p, err := Parse("s3://my-bucket/path/to/object.bin")
	require.NoError(t, err)
	assert.Equal(t, Scheme("s3"), p.Scheme)
	assert.Equal(t, "my-bucket", p.Bucket)
	assert.Equal(t, "/path/to/object.bin", p.CloudPath)
}

func TestParse_InvalidMissingScheme(t *testing.T) {
	_, err := Parse("/not/a/uri")
	assert.Error(t, err)
}

func TestParse_InvalidLocalMissingPath(t *testing.T) {
	_, err := Parse("local://only-slug")
	assert.Error(t, err)
}

func TestParse_InvalidCloudMissingBucket(t *testing.T) {
	_, err := Parse("s3://")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"local://device-one/var/data/file.txt",
		"content://deadbeef-0000-0000-0000-000000000000",
		"s3://bucket-name/nested/path.zip",
		"gdrive://root/folder/doc.docx",
	}

	for _, raw := range cases {
		p, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, Format(p), "round-trip mismatch for %s", raw)
	}
}

type stubResolver struct {
	uuid string
	err  error
}

func (s stubResolver) DeviceUUIDForSlug(ctx context.Context, slug string) (string, error) {
	return s.uuid, s.err
}

func TestResolve_LocalResolvesDeviceUUID(t *testing.T) {
	p, deviceUUID, err := Resolve(context.Background(), stubResolver{uuid: "device-uuid-123"}, "local://slug/path/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "device-uuid-123", deviceUUID)
	assert.Equal(t, "/path/file.txt", p.AbsPath)
}

func TestResolve_NonLocalSkipsResolver(t *testing.T) {
	p, deviceUUID, err := Resolve(context.Background(), stubResolver{uuid: "should-not-be-used"}, "content://abc")
	require.NoError(t, err)
	assert.Empty(t, deviceUUID)
	assert.Equal(t, "abc", p.ContentUUID)
}
