package cogvalidate

import "testing"

import "github.com/stretchr/testify/assert"

func TestHasEPSG3857(t *testing.T) {
	// header: keyDirVersion, keyRevision, minorRevision, numberOfKeys
	gkd := []uint16{1, 1, 0, 2,
		1024, 0, 1, 1, // GTModelTypeGeoKey = 1 (projected)
		3072, 0, 1, epsg3857, // ProjectedCSTypeGeoKey = 3857
	}
	assert.True(t, hasEPSG3857(ifdInfo{GeoKeyDirectory: gkd}))
}

func TestHasEPSG3857Absent(t *testing.T) {
	gkd := []uint16{1, 1, 0, 1,
		3072, 0, 1, 4326,
	}
	assert.False(t, hasEPSG3857(ifdInfo{GeoKeyDirectory: gkd}))
}

func TestHasEPSG3857EmptyDirectory(t *testing.T) {
	assert.False(t, hasEPSG3857(ifdInfo{}))
}

func TestHasCOGLayoutMarker(t *testing.T) {
	xml := `<GDALMetadata><Item name="LAYOUT">COG</Item></GDALMetadata>`
	assert.True(t, hasCOGLayoutMarker(xml))
}

func TestHasCOGLayoutMarkerAbsent(t *testing.T) {
	xml := `<GDALMetadata><Item name="AREA_OR_POINT">Area</Item></GDALMetadata>`
	assert.False(t, hasCOGLayoutMarker(xml))
}

func TestHasCOGLayoutMarkerEmptyOrMalformed(t *testing.T) {
	assert.False(t, hasCOGLayoutMarker(""))
	assert.False(t, hasCOGLayoutMarker("not xml"))
}

func TestDtypeMatchesRGBA(t *testing.T) {
	assert.True(t, dtypeMatches(ifdInfo{BitsPerSample: []uint16{8, 8, 8, 8}}, KindRGBA))
	assert.False(t, dtypeMatches(ifdInfo{BitsPerSample: []uint16{16, 8, 8, 8}}, KindRGBA))
	assert.False(t, dtypeMatches(ifdInfo{}, KindRGBA))
}

func TestDtypeMatchesValue(t *testing.T) {
	assert.True(t, dtypeMatches(ifdInfo{
		BitsPerSample: []uint16{32},
		SampleFormat:  []uint16{sampleFormatIEEEFP},
	}, KindValue))
	assert.False(t, dtypeMatches(ifdInfo{
		BitsPerSample: []uint16{32},
		SampleFormat:  []uint16{1},
	}, KindValue))
	assert.False(t, dtypeMatches(ifdInfo{BitsPerSample: []uint16{16}}, KindValue))
}
