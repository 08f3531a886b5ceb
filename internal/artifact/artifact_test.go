package artifact

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quakerun/internal/clock"
	"github.com/roach88/quakerun/internal/ir"
)

func testParty() ir.Party {
	base := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return ir.Party{Families: []ir.Family{
		{Template: "2024_03_01t11_59_58", Detections: []ir.DetectionRecord{
			{Template: "2024_03_01t11_59_58", EventID: "ev-1", Time: base, Score: 9.5, Channels: 12},
			{Template: "2024_03_01t11_59_58", EventID: "ev-2", Time: base.Add(time.Minute), Score: 4.25, Channels: 7},
		}},
		{Template: "2024_03_02t08_10_00"},
	}}
}

func TestStoreSaveLoad(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore(t.TempDir(), clock.NewFake(created))

	party := testParty()
	require.NoError(t, s.Save(PartyDeclustered, party))

	var got ir.Party
	h, err := s.Load(PartyDeclustered, &got)
	require.NoError(t, err)

	assert.Equal(t, KindParty, h.Kind)
	assert.Equal(t, ir.ArtifactVersion, h.Version)
	assert.True(t, created.Equal(h.Created))

	require.Len(t, got.Families, 2)
	d := got.Families[0].Detections[0]
	assert.Equal(t, party.Families[0].Detections[0].Key(), d.Key(), "nanosecond time must survive")
	assert.Empty(t, got.Families[1].Detections)
}

func TestStoreLoadMissing(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	var got ir.Tribe
	_, err := s.Load(Tribe, &got)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissing)

	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, Tribe, missing.Name)

	ok, err := s.Exists(Tribe)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	data, err := Encode(KindTribe, time.Now(), ir.Tribe{})
	require.NoError(t, err)

	var party ir.Party
	_, err = Decode(data, KindParty, &party)
	assert.ErrorContains(t, err, "artifact holds tribe, want party")
}

func TestDecodeRejectsCorruptPayload(t *testing.T) {
	data, err := Encode(KindParty, time.Now(), testParty())
	require.NoError(t, err)

	var env envelope
	require.NoError(t, decMode.Unmarshal(data, &env))
	env.Checksum[0] ^= 0xff
	tampered, err := encMode.Marshal(env)
	require.NoError(t, err)

	var party ir.Party
	_, err = Decode(tampered, KindParty, &party)
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestDecodeRejectsImplausibleSize(t *testing.T) {
	data, err := Encode(KindParty, time.Now(), testParty())
	require.NoError(t, err)

	for _, size := range []int{-1, MaxPayloadSize + 1} {
		var env envelope
		require.NoError(t, decMode.Unmarshal(data, &env))
		env.Size = size
		tampered, err := encMode.Marshal(env)
		require.NoError(t, err)

		var party ir.Party
		_, err = Decode(tampered, KindParty, &party)
		assert.ErrorContains(t, err, "payload size", "size %d", size)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	data, err := Encode(KindCatalog, time.Now(), ir.Catalog{})
	require.NoError(t, err)

	var env envelope
	require.NoError(t, decMode.Unmarshal(data, &env))
	env.Version = ir.ArtifactVersion + 1
	future, err := encMode.Marshal(env)
	require.NoError(t, err)

	var cat ir.Catalog
	_, err = Decode(future, KindCatalog, &cat)
	assert.ErrorContains(t, err, "unsupported artifact version")
}

func TestDecodeRejectsForeignFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, nil)
	require.NoError(t, os.WriteFile(s.Path(CatalogWithMagnitudes), []byte("not cbor at all"), 0o644))

	var cat ir.Catalog
	_, err := s.Load(CatalogWithMagnitudes, &cat)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissing)
}

func TestEncodeIsDeterministic(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a, err := Encode(KindParty, created, testParty())
	require.NoError(t, err)
	b, err := Encode(KindParty, created, testParty())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestProduced(t *testing.T) {
	assert.Equal(t, []Name{PartyDeclustered, SelfDetections}, Produced(ir.Declustering))
	assert.Nil(t, Produced(ir.Correlations))
	assert.Equal(t, KindSelfDetections, SelfDetections.Kind())
	assert.Equal(t, KindCatalog, CatalogWithMagnitudes.Kind())
}
