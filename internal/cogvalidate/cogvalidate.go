// Package cogvalidate implements Gate 1 of spec.md section 4.7: structural
// validation of a just-written COG against the locked output contract
// (band count, dtype, CRS, block size, overviews, pixel size, layout
// marker). It is the read-path half of the teacher's own IFD tag
// vocabulary and IFD-chain walk (root package's cog.go IFD struct and
// loader.go's loadIFD/sanityCheckIFD), adapted: the teacher used these to
// assemble a multi-TIFF COG from scratch; here they parse a COG that
// gdal_translate/gdaladdo already produced, using github.com/google/tiff
// directly instead of shelling out to gdalinfo.
package cogvalidate

import (
	"encoding/xml"
	"fmt"
	"math"
	"sort"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
)

// Kind distinguishes the two artifact shapes Gate 1 understands.
type Kind string

const (
	KindRGBA  Kind = "rgba"
	KindValue Kind = "value"
)

// tag IDs lifted from the teacher's cog.go IFD struct tags.
const (
	tagImageWidth         = 256
	tagImageLength        = 257
	tagBitsPerSample      = 258
	tagSamplesPerPixel    = 277
	tagTileWidth          = 322
	tagTileLength         = 323
	tagNewSubfileType     = 254
	tagSampleFormat       = 339
	tagModelPixelScaleTag = 33550
	tagGeoKeyDirectoryTag = 34735
	tagGDALMetaData       = 42112

	subfileTypeReducedImage = 1

	sampleFormatIEEEFP = 3

	geoKeyProjectedCSType = 3072
	epsg3857              = 3857
)

// ifdInfo is the subset of IFD fields Gate 1 inspects, unmarshaled via
// tiff.UnmarshalIFD the same way the teacher's loadIFD does.
type ifdInfo struct {
	NewSubfileType    uint32   `tiff:"field,tag=254"`
	ImageWidth        uint64   `tiff:"field,tag=256"`
	ImageLength       uint64   `tiff:"field,tag=257"`
	BitsPerSample     []uint16 `tiff:"field,tag=258"`
	SamplesPerPixel   uint16   `tiff:"field,tag=277"`
	TileWidth         uint16   `tiff:"field,tag=322"`
	TileLength        uint16   `tiff:"field,tag=323"`
	SampleFormat      []uint16 `tiff:"field,tag=339"`
	ModelPixelScale   []float64 `tiff:"field,tag=33550"`
	GeoKeyDirectory   []uint16 `tiff:"field,tag=34735"`
	GDALMetaData      string   `tiff:"field,tag=42112"`
}

// Result reports Gate 1's findings for diagnostics and sidecar population.
type Result struct {
	Bands       int
	Width       int
	Height      int
	PixelSizeX  float64
	PixelSizeY  float64
	OverviewCount int
}

// Violation is a single Gate 1 rejection reason.
type Violation struct {
	Reason string
}

func (v Violation) Error() string { return v.Reason }

// ValidateOptions parameterizes Gate 1 against the expected output contract
// for the artifact under test.
type ValidateOptions struct {
	Kind              Kind
	ExpectedMeters    float64 // unscaled grid meters-per-pixel; Validate multiplies it by DownsampleFactor
	DownsampleFactor  int
}

// Validate opens path's TIFF structure and runs every Gate 1 check,
// returning all violations found (not just the first) so a single failed
// build surfaces a complete diagnostic, plus a Result for passing builds.
func Validate(r tiff.ReadAtReadSeeker, opts ValidateOptions) (Result, []Violation) {
	var viol []Violation

	tif, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return Result{}, []Violation{{Reason: fmt.Sprintf("parse tiff: %v", err)}}
	}

	rawIFDs := tif.IFDs()
	if len(rawIFDs) == 0 {
		return Result{}, []Violation{{Reason: "no IFDs"}}
	}

	infos := make([]ifdInfo, len(rawIFDs))
	for i := range rawIFDs {
		if err := tiff.UnmarshalIFD(rawIFDs[i], &infos[i]); err != nil {
			return Result{}, []Violation{{Reason: fmt.Sprintf("unmarshal ifd %d: %v", i, err)}}
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ImageLength != infos[j].ImageLength {
			return infos[i].ImageLength > infos[j].ImageLength
		}
		return infos[i].NewSubfileType < infos[j].NewSubfileType
	})

	full := infos[0]
	if full.NewSubfileType != 0 {
		viol = append(viol, Violation{Reason: "first IFD is not the full-resolution image"})
	}

	overviews := 0
	for _, ifd := range infos[1:] {
		if ifd.NewSubfileType&subfileTypeReducedImage == subfileTypeReducedImage {
			overviews++
		}
	}
	if overviews == 0 {
		viol = append(viol, Violation{Reason: "no overviews present"})
	}

	expectedBands := 1
	if opts.Kind == KindRGBA {
		expectedBands = 4
	}
	if int(full.SamplesPerPixel) != expectedBands {
		viol = append(viol, Violation{Reason: fmt.Sprintf("band count mismatch: got %d want %d", full.SamplesPerPixel, expectedBands)})
	}

	if !dtypeMatches(full, opts.Kind) {
		viol = append(viol, Violation{Reason: "dtype mismatch"})
	}

	if full.TileWidth != 512 || full.TileLength != 512 {
		viol = append(viol, Violation{Reason: fmt.Sprintf("internal block size not [512, 512]: got [%d, %d]", full.TileWidth, full.TileLength)})
	}

	if !hasEPSG3857(full) {
		viol = append(viol, Violation{Reason: "CRS does not report EPSG:3857"})
	}

	if !hasCOGLayoutMarker(full.GDALMetaData) {
		viol = append(viol, Violation{Reason: "LAYOUT metadata does not indicate a cloud-optimized file"})
	}

	var pxX, pxY float64
	if len(full.ModelPixelScale) >= 2 {
		pxX, pxY = full.ModelPixelScale[0], full.ModelPixelScale[1]
	}
	expected := opts.ExpectedMeters
	if opts.DownsampleFactor > 1 {
		expected *= float64(opts.DownsampleFactor)
	}
	if expected > 0 {
		if math.Abs(pxX-expected) > 0.1 || math.Abs(pxY-expected) > 0.1 {
			viol = append(viol, Violation{Reason: fmt.Sprintf("pixel size [%g, %g] differs from expected %g m by more than 0.1 m", pxX, pxY, expected)})
		}
	}

	res := Result{
		Bands:         int(full.SamplesPerPixel),
		Width:         int(full.ImageWidth),
		Height:        int(full.ImageLength),
		PixelSizeX:    pxX,
		PixelSizeY:    pxY,
		OverviewCount: overviews,
	}
	return res, viol
}

func dtypeMatches(ifd ifdInfo, kind Kind) bool {
	switch kind {
	case KindRGBA:
		for _, b := range ifd.BitsPerSample {
			if b != 8 {
				return false
			}
		}
		return len(ifd.BitsPerSample) > 0
	case KindValue:
		if len(ifd.BitsPerSample) != 1 || ifd.BitsPerSample[0] != 32 {
			return false
		}
		return len(ifd.SampleFormat) == 1 && ifd.SampleFormat[0] == sampleFormatIEEEFP
	default:
		return false
	}
}

// hasEPSG3857 scans the unpacked GeoKey directory for ProjectedCSTypeGeoKey
// == 3857. The GeoKey directory is laid out as a header quad followed by
// repeating (keyID, tiffTagLocation, count, valueOrOffset) quads (GeoTIFF
// spec); when tiffTagLocation is 0 the key's value is valueOrOffset itself.
func hasEPSG3857(ifd ifdInfo) bool {
	gkd := ifd.GeoKeyDirectory
	if len(gkd) < 4 {
		return false
	}
	numKeys := int(gkd[3])
	for i := 0; i < numKeys; i++ {
		off := 4 + i*4
		if off+3 >= len(gkd) {
			break
		}
		keyID := gkd[off]
		tagLoc := gkd[off+1]
		value := gkd[off+3]
		if keyID == geoKeyProjectedCSType && tagLoc == 0 && value == epsg3857 {
			return true
		}
	}
	return false
}

// gdalMetadataXML mirrors the subset of GDAL's <GDALMetadata> item format
// Gate 1 needs to find the LAYOUT=COG marker gdal_translate/gdaladdo emit
// via the COG-oriented creation options.
type gdalMetadataXML struct {
	Items []gdalMetadataItem `xml:"Item"`
}

type gdalMetadataItem struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

func hasCOGLayoutMarker(gdalMetaData string) bool {
	if gdalMetaData == "" {
		return false
	}
	var parsed gdalMetadataXML
	if err := xml.Unmarshal([]byte(gdalMetaData), &parsed); err != nil {
		return false
	}
	for _, item := range parsed.Items {
		if item.Name == "LAYOUT" && item.Value == "COG" {
			return true
		}
	}
	return false
}
