package compress

import (
	"bytes"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// recompressImages re-encodes every plain DCT image in the document at
// quality and returns how many were replaced.
func recompressImages(pdfCtx *model.Context, quality, maxDimension int) int {
	replaced := 0
	for _, entry := range pdfCtx.Table {
		if entry == nil || entry.Free || entry.Object == nil {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok || !isPlainJPEG(sd) {
			continue
		}

		out, width, height, ok := reencodeJPEG(sd.Raw, quality, maxDimension)
		if !ok {
			continue
		}

		length := int64(len(out))
		sd.Raw = out
		sd.StreamLength = &length
		sd.Update("Length", types.Integer(len(out)))
		sd.Update("Width", types.Integer(width))
		sd.Update("Height", types.Integer(height))
		entry.Object = sd
		replaced++
	}
	return replaced
}

// isPlainJPEG accepts 8 bit DCT images with no other filters or decode
// parameters. Masks are left alone.
func isPlainJPEG(sd types.StreamDict) bool {
	if st := sd.Subtype(); st == nil || *st != "Image" {
		return false
	}
	if len(sd.FilterPipeline) != 1 || sd.FilterPipeline[0].Name != "DCTDecode" || sd.FilterPipeline[0].DecodeParms != nil {
		return false
	}
	if mask := sd.BooleanEntry("ImageMask"); mask != nil && *mask {
		return false
	}
	if bpc := sd.IntEntry("BitsPerComponent"); bpc != nil && *bpc != 8 {
		return false
	}
	return len(sd.Raw) > 0
}

// reencodeJPEG decodes raw, shrinks it to fit maxDimension and encodes it
// again at quality. ok is false when the result would not be smaller or the
// image cannot be handled without changing its color model.
func reencodeJPEG(raw []byte, quality, maxDimension int) (out []byte, width, height int, ok bool) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, false
	}

	var gray bool
	switch img.(type) {
	case *image.CMYK:
		return nil, 0, 0, false
	case *image.Gray:
		gray = true
	}

	b := img.Bounds()
	if maxDimension > 0 && (b.Dx() > maxDimension || b.Dy() > maxDimension) {
		resized := imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
		if gray {
			img = toGray(resized)
		} else {
			img = resized
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, 0, 0, false
	}
	if buf.Len() >= len(raw) {
		return nil, 0, 0, false
	}

	b = img.Bounds()
	return buf.Bytes(), b.Dx(), b.Dy(), true
}

// toGray keeps single component images single component after resampling,
// which imaging always does in NRGBA.
func toGray(src image.Image) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}
