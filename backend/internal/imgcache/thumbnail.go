package imgcache

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// ThumbBoxSize 缩略图要放进的方框边长
	ThumbBoxSize = 256
	// thumbJPEGQuality 重编码的 JPEG 质量
	thumbJPEGQuality = 80
)

// thumbnailSize 计算等比缩放进 ThumbBoxSize 方框后的目标尺寸。
// 不放大小图；极端长宽比下每个维度最小钳到 1。
func thumbnailSize(w, h int) (int, int) {
	if w <= ThumbBoxSize && h <= ThumbBoxSize {
		return w, h
	}
	scale := float64(ThumbBoxSize) / float64(w)
	if s := float64(ThumbBoxSize) / float64(h); s < scale {
		scale = s
	}
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// renderThumbnail 解码图片、双线性缩放进 256x256 方框、重编码为 JPEG。
// 纯 CPU 计算，调用方负责放进计算池。
func renderThumbnail(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	nw, nh := thumbnailSize(bounds.Dx(), bounds.Dy())
	thumb := imaging.Resize(img, nw, nh, imaging.Linear)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbJPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
