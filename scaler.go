package avpipe

// ScaleMode defines how scaling handles aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit scales to fit within the target, preserving aspect ratio (may letterbox).
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill scales to fill the target, preserving aspect ratio (may crop).
	ScaleModeFill
	// ScaleModeStretch scales to exactly the target dimensions (may distort).
	ScaleModeStretch
)

// VideoScaler scales I420 video frames with bilinear interpolation. The
// output planes are reused across calls, so a scaled frame is only valid
// until the next Scale.
type VideoScaler struct {
	srcWidth, srcHeight int
	dstWidth, dstHeight int
	mode                ScaleMode

	outY, outU, outV []byte
}

// NewVideoScaler creates a scaler for the given dimensions.
func NewVideoScaler(srcWidth, srcHeight, dstWidth, dstHeight int, mode ScaleMode) *VideoScaler {
	ySize := dstWidth * dstHeight
	uvSize := (dstWidth / 2) * (dstHeight / 2)

	return &VideoScaler{
		srcWidth:  srcWidth,
		srcHeight: srcHeight,
		dstWidth:  dstWidth,
		dstHeight: dstHeight,
		mode:      mode,
		outY:      make([]byte, ySize),
		outU:      make([]byte, uvSize),
		outV:      make([]byte, uvSize),
	}
}

// Scale scales an I420 frame to the target dimensions. Frames already at the
// target size are returned unchanged.
func (s *VideoScaler) Scale(frame *VideoFrame) *VideoFrame {
	if frame.Width == s.dstWidth && frame.Height == s.dstHeight {
		return frame
	}

	srcX, srcY, srcW, srcH := s.sourceRegion(frame.Width, frame.Height)

	s.scalePlane(frame.Data[0], frame.Stride[0], srcX, srcY, srcW, srcH,
		s.outY, s.dstWidth, s.dstWidth, s.dstHeight)
	s.scalePlane(frame.Data[1], frame.Stride[1], srcX/2, srcY/2, srcW/2, srcH/2,
		s.outU, s.dstWidth/2, s.dstWidth/2, s.dstHeight/2)
	s.scalePlane(frame.Data[2], frame.Stride[2], srcX/2, srcY/2, srcW/2, srcH/2,
		s.outV, s.dstWidth/2, s.dstWidth/2, s.dstHeight/2)

	return &VideoFrame{
		Data:   [][]byte{s.outY, s.outU, s.outV},
		Stride: []int{s.dstWidth, s.dstWidth / 2, s.dstWidth / 2},
		Width:  s.dstWidth,
		Height: s.dstHeight,
		Format: PixelFormatI420,
	}
}

// sourceRegion determines what region of the source to read for the
// configured scale mode.
func (s *VideoScaler) sourceRegion(srcW, srcH int) (x, y, w, h int) {
	switch s.mode {
	case ScaleModeFill:
		// Crop the source to the target aspect ratio.
		srcAspect := float64(srcW) / float64(srcH)
		dstAspect := float64(s.dstWidth) / float64(s.dstHeight)

		if srcAspect > dstAspect {
			newW := int(float64(srcH) * dstAspect)
			return (srcW - newW) / 2, 0, newW, srcH
		} else if srcAspect < dstAspect {
			newH := int(float64(srcW) / dstAspect)
			return 0, (srcH - newH) / 2, srcW, newH
		}
		return 0, 0, srcW, srcH

	default:
		// Fit and stretch both read the whole source.
		return 0, 0, srcW, srcH
	}
}

// scalePlane scales a single plane using bilinear interpolation with 16.16
// fixed-point coordinates.
func (s *VideoScaler) scalePlane(src []byte, srcStride, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		srcYInt := srcYFP >> 16
		srcYFrac := srcYFP & 0xFFFF

		y0 := srcYInt + srcY
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}

		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			srcXInt := srcXFP >> 16
			srcXFrac := srcXFP & 0xFFFF

			x0 := srcXInt + srcX
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}

			p00 := int(src[y0*srcStride+x0])
			p10 := int(src[y0*srcStride+x1])
			p01 := int(src[y1*srcStride+x0])
			p11 := int(src[y1*srcStride+x1])

			top := (p00*(0x10000-srcXFrac) + p10*srcXFrac) >> 16
			bottom := (p01*(0x10000-srcXFrac) + p11*srcXFrac) >> 16
			result := (top*(0x10000-srcYFrac) + bottom*srcYFrac) >> 16

			dst[y*dstStride+x] = byte(result)
		}
	}
}

// ScaleRGBA scales a packed RGBA frame to the given size with bilinear
// interpolation. Frames already at the target size are returned unchanged.
// Overlay blending uses this to bring rectangle pixels to their render size.
func ScaleRGBA(src *VideoFrame, dstW, dstH int) *VideoFrame {
	if src.Width == dstW && src.Height == dstH {
		return src
	}
	out := &VideoFrame{
		Data:   [][]byte{make([]byte, dstW*dstH*4)},
		Stride: []int{dstW * 4},
		Width:  dstW,
		Height: dstH,
		Format: src.Format,
	}
	if src.Width <= 0 || src.Height <= 0 || dstW <= 0 || dstH <= 0 {
		return out
	}

	xRatio := (src.Width << 16) / dstW
	yRatio := (src.Height << 16) / dstH
	srcData := src.Data[0]
	srcStride := src.Stride[0]

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		y0 := srcYFP >> 16
		yFrac := srcYFP & 0xFFFF
		y1 := y0 + 1
		if y1 >= src.Height {
			y1 = y0
		}

		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			x0 := srcXFP >> 16
			xFrac := srcXFP & 0xFFFF
			x1 := x0 + 1
			if x1 >= src.Width {
				x1 = x0
			}

			di := y*out.Stride[0] + x*4
			for ch := 0; ch < 4; ch++ {
				p00 := int(srcData[y0*srcStride+x0*4+ch])
				p10 := int(srcData[y0*srcStride+x1*4+ch])
				p01 := int(srcData[y1*srcStride+x0*4+ch])
				p11 := int(srcData[y1*srcStride+x1*4+ch])

				top := (p00*(0x10000-xFrac) + p10*xFrac) >> 16
				bottom := (p01*(0x10000-xFrac) + p11*xFrac) >> 16
				out.Data[0][di+ch] = byte((top*(0x10000-yFrac) + bottom*yFrac) >> 16)
			}
		}
	}
	return out
}

// ScaleFrame scales a frame without keeping a scaler around.
func ScaleFrame(frame *VideoFrame, dstWidth, dstHeight int, mode ScaleMode) *VideoFrame {
	scaler := NewVideoScaler(frame.Width, frame.Height, dstWidth, dstHeight, mode)
	return scaler.Scale(frame)
}

// CalculateScaledSize returns the output dimensions when scaling with a given
// mode. Useful for determining letterbox dimensions in ScaleModeFit.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	switch mode {
	case ScaleModeFit:
		srcAspect := float64(srcW) / float64(srcH)
		dstAspect := float64(maxW) / float64(maxH)

		if srcAspect > dstAspect {
			w = maxW
			h = int(float64(maxW) / srcAspect)
		} else {
			h = maxH
			w = int(float64(maxH) * srcAspect)
		}
		// Keep dimensions even for YUV subsampling.
		w = (w + 1) &^ 1
		h = (h + 1) &^ 1
		return w, h

	default:
		return maxW, maxH
	}
}
