package databuild

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avalon-pipeline/databuild/internal/buildenv"
	"github.com/avalon-pipeline/databuild/internal/compiler"
	"github.com/avalon-pipeline/databuild/internal/manifest"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// readPayload fetches a manifest entry's asset and unwraps the
// compiled payload.
func readPayload(t *testing.T, f *fixture, m *manifest.Manifest, path resource.PathID) []byte {
	t.Helper()

	entry, ok := m.Lookup(path)
	require.True(t, ok, "manifest entry for %s", path)

	data, err := f.build.store.Read(entry.ContentID)
	require.NoError(t, err)

	_, payload, err := ReadAsset(data)
	require.NoError(t, err)
	return payload
}

func TestCompileTextToInteger(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	f.pull()

	path := resource.PathFromID(id).Push(integerType)
	m, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)

	require.Equal(t, 1, m.Len())
	payload := readPayload(t, f, m, path)
	assert.Equal(t, uint64(47), binary.LittleEndian.Uint64(payload))
	assert.Equal(t, 1, f.invocations())
}

func TestCompileChainedReverse(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	f.pull()

	path := resource.PathFromID(id).Push(reversedType).Push(integerType)
	m, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)

	// Both steps' outputs land in the manifest.
	require.Equal(t, 2, m.Len())
	payload := readPayload(t, f, m, path)
	assert.Equal(t, uint64(74), binary.LittleEndian.Uint64(payload))
	assert.Equal(t, 2, f.invocations())
}

func TestMultiOutputSplit(t *testing.T) {
	f := newFixture(t)

	id, err := f.proj.AddResource("strings", multiTextType, []byte("hello;world"), nil)
	require.NoError(t, err)
	f.pull()

	source := resource.PathFromID(id)
	m, err := f.build.Compile(context.Background(), source.Push(textType), f.env, "")
	require.NoError(t, err)

	require.Equal(t, 2, m.Len(), "two named outputs, no collisions")
	first := readPayload(t, f, m, source.PushNamed(textType, "text_0"))
	second := readPayload(t, f, m, source.PushNamed(textType, "text_1"))
	assert.Equal(t, "hello", string(first))
	assert.Equal(t, "world", string(second))
}

func TestNamedOutputEditInvalidates(t *testing.T) {
	f := newFixture(t)

	id, err := f.proj.AddResource("strings", multiTextType, []byte("47;48"), nil)
	require.NoError(t, err)
	f.pull()

	path := resource.PathFromID(id).PushNamed(textType, "text_1").Push(integerType)

	m, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)
	payload := readPayload(t, f, m, path)
	require.Equal(t, uint64(48), binary.LittleEndian.Uint64(payload))
	require.Equal(t, 2, f.invocations())

	// text_0 stays byte-identical; only the named input of the
	// downstream step changes.
	require.NoError(t, f.proj.UpdateResource(id, []byte("47;99")))
	f.pull()

	m, err = f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)
	payload = readPayload(t, f, m, path)
	assert.Equal(t, uint64(99), binary.LittleEndian.Uint64(payload), "downstream step must track its named input")
	assert.Equal(t, 4, f.invocations())
}

func TestNamedOutputMissing(t *testing.T) {
	f := newFixture(t)

	id, err := f.proj.AddResource("strings", multiTextType, []byte("47"), nil)
	require.NoError(t, err)
	f.pull()

	// The split of "47" produces only text_0.
	path := resource.PathFromID(id).PushNamed(textType, "text_9").Push(integerType)
	_, err = f.build.Compile(context.Background(), path, f.env, "")
	assert.ErrorIs(t, err, ErrOutputNotPresent)
}

func TestCompileDeterministicCacheHit(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	f.pull()

	path := resource.PathFromID(id).Push(integerType)

	first, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)
	require.Equal(t, 1, f.invocations())

	f.pull() // no project changes
	second, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.invocations(), "second build must be served from cache")

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "manifests must be byte-identical")
}

func TestEnvironmentChangesContext(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	f.pull()

	path := resource.PathFromID(id).Push(integerType)

	_, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)
	require.Equal(t, 1, f.invocations())

	server := f.env
	server.Target = buildenv.TargetServer
	_, err = f.build.Compile(context.Background(), path, server, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.invocations(), "changed target is a different compilation context")
}

func TestSourceEditInvalidates(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	f.pull()

	path := resource.PathFromID(id).Push(integerType)
	_, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)

	require.NoError(t, f.proj.UpdateResource(id, []byte("48")))
	f.pull()

	m, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.invocations(), "content edit must force recompilation")

	payload := readPayload(t, f, m, path)
	assert.Equal(t, uint64(48), binary.LittleEndian.Uint64(payload))
}

func TestSiblingEditDoesNotInvalidate(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	sibling := f.addText("other", "unrelated")
	f.pull()

	path := resource.PathFromID(id).Push(integerType)
	_, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)

	require.NoError(t, f.proj.UpdateResource(sibling, []byte("still unrelated")))
	f.pull()

	_, err = f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.invocations(), "sibling edits must not invalidate this cache entry")
}

func TestDependencyEditInvalidates(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	dep := f.addText("palette", "shared data")
	require.NoError(t, f.proj.SetDependencies(id, []resource.PathID{resource.PathFromID(dep)}))
	f.pull()

	path := resource.PathFromID(id).Push(integerType)
	_, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)

	require.NoError(t, f.proj.UpdateResource(dep, []byte("shared data v2")))
	f.pull()

	_, err = f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.invocations(), "dependency edits flow into the source hash")
}

func TestCircularDependency(t *testing.T) {
	f := newFixture(t)
	a := f.addText("a", "1")
	b := f.addText("b", "2")
	require.NoError(t, f.proj.SetDependencies(a, []resource.PathID{resource.PathFromID(b)}))
	require.NoError(t, f.proj.SetDependencies(b, []resource.PathID{resource.PathFromID(a)}))
	f.pull()

	_, err := f.build.Compile(context.Background(), resource.PathFromID(a).Push(integerType), f.env, "")
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestCompileErrors(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	f.pull()

	// Bare source path.
	_, err := f.build.Compile(context.Background(), resource.PathFromID(id), f.env, "")
	assert.ErrorIs(t, err, ErrNothingToCompile)

	// No compiler declares this transform.
	unknown := resource.TypeFromName("mesh_asset")
	_, err = f.build.Compile(context.Background(), resource.PathFromID(id).Push(unknown), f.env, "")
	assert.ErrorIs(t, err, compiler.ErrNotFound)

	// Source resource the index has never seen.
	ghost := resource.PathFromID(resource.ID{Kind: textType, Num: 0xF00D}).Push(integerType)
	_, err = f.build.Compile(context.Background(), ghost, f.env, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClosedIndexErrorPropagates(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	f.pull()

	require.NoError(t, f.build.Close())

	_, err := f.build.Compile(context.Background(), resource.PathFromID(id).Push(integerType), f.env, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound, "index failures are not missing-resource errors")
}

func TestCompileMany(t *testing.T) {
	f := newFixture(t)
	a := f.addText("a", "1")
	b := f.addText("b", "2")
	f.pull()

	paths := []resource.PathID{
		resource.PathFromID(a).Push(integerType),
		resource.PathFromID(b).Push(integerType),
	}

	m, err := f.build.CompileMany(context.Background(), paths, f.env, "")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 2, f.invocations())
}

func TestManifestFileMerge(t *testing.T) {
	f := newFixture(t)
	a := f.addText("a", "1")
	b := f.addText("b", "2")
	f.pull()

	file := filepath.Join(t.TempDir(), "game.manifest")

	_, err := f.build.Compile(context.Background(), resource.PathFromID(a).Push(integerType), f.env, file)
	require.NoError(t, err)

	_, err = f.build.Compile(context.Background(), resource.PathFromID(b).Push(integerType), f.env, file)
	require.NoError(t, err)

	merged, err := manifest.Load(file)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Len(), "recompiles merge into the existing manifest file")
}

func TestLookupPathID(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	f.pull()

	path := resource.PathFromID(id).Push(integerType)
	_, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)

	resolved, err := f.build.LookupPathID(path.ResourceID())
	require.NoError(t, err)
	assert.True(t, resolved.Equal(path))

	// Source resources are registered during pull.
	resolved, err = f.build.LookupPathID(resource.PathFromID(id).ResourceID())
	require.NoError(t, err)
	assert.True(t, resolved.Equal(resource.PathFromID(id)))
}

func TestSourcePullIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addText("a", "1")
	f.addText("b", "2")

	assert.Equal(t, 2, f.pull())
	assert.Equal(t, 0, f.pull(), "unchanged project pulls no updates")
}

func TestRuntimeManifestProjection(t *testing.T) {
	f := newFixture(t)
	id := f.addText("number", "47")
	f.pull()

	path := resource.PathFromID(id).Push(reversedType).Push(integerType)
	m, err := f.build.Compile(context.Background(), path, f.env, "")
	require.NoError(t, err)

	rt := m.IntoRuntime(func(kind resource.Type) bool { return kind == integerType })
	require.Len(t, rt.Entries, 1)
	assert.Equal(t, path.ResourceID(), rt.Entries[0].ID)
}
