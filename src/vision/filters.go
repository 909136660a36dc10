package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Filters implements the recognition preprocessing steps on OpenCV.
type Filters struct{}

// grayOp runs fn on a Mat copy of img and converts the result back.
func grayOp(img *image.Gray, fn func(src gocv.Mat, dst *gocv.Mat)) (*image.Gray, error) {
	src, err := gocv.ImageGrayToMatGray(toGray(img))
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	fn(src, &dst)

	out, err := dst.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert result: %w", err)
	}
	g, ok := out.(*image.Gray)
	if !ok {
		return toGray(out), nil
	}
	return g, nil
}

func kernel(ksize int) gocv.Mat {
	return gocv.GetStructuringElement(gocv.MorphRect, image.Pt(ksize, ksize))
}

func (Filters) EqualizeCLAHE(img *image.Gray, clip float64) (*image.Gray, error) {
	return grayOp(img, func(src gocv.Mat, dst *gocv.Mat) {
		clahe := gocv.NewCLAHEWithParams(clip, image.Pt(8, 8))
		defer clahe.Close()
		clahe.Apply(src, dst)
	})
}

func (Filters) MedianBlur(img *image.Gray, ksize int) (*image.Gray, error) {
	return grayOp(img, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.MedianBlur(src, dst, ksize)
	})
}

func (Filters) Erode(img *image.Gray, ksize int) (*image.Gray, error) {
	return grayOp(img, func(src gocv.Mat, dst *gocv.Mat) {
		k := kernel(ksize)
		defer k.Close()
		gocv.Erode(src, dst, k)
	})
}

func (Filters) Dilate(img *image.Gray, ksize int) (*image.Gray, error) {
	return grayOp(img, func(src gocv.Mat, dst *gocv.Mat) {
		k := kernel(ksize)
		defer k.Close()
		gocv.Dilate(src, dst, k)
	})
}

func (Filters) ThresholdOtsu(img *image.Gray) (*image.Gray, error) {
	return grayOp(img, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.Threshold(src, dst, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	})
}

func (Filters) Invert(img *image.Gray) (*image.Gray, error) {
	return grayOp(img, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.BitwiseNot(src, dst)
	})
}

func (Filters) Open(img *image.Gray, ksize int) (*image.Gray, error) {
	return grayOp(img, func(src gocv.Mat, dst *gocv.Mat) {
		k := kernel(ksize)
		defer k.Close()
		gocv.MorphologyEx(src, dst, gocv.MorphOpen, k)
	})
}
