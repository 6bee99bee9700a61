package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/voxel"
)

// saveSnapshots writes JPEG slice snapshots of the reference, the mask
// tiers and the good-set mean image for visual QC.
func (p *Pipeline) saveSnapshots(res *Results) error {
	dir := p.params.Config.Output.SnapshotDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if err := saveVolumeSlices(filepath.Join(dir, "reference"), res.Reference); err != nil {
		return err
	}
	geom := res.Reference.Geom
	for name, m := range map[string]*models.Mask{
		"mask_strict":  res.Hierarchy.Strict,
		"mask_regular": res.Hierarchy.Regular,
		"mask_liberal": res.Hierarchy.Liberal,
	} {
		if err := saveVolumeSlices(filepath.Join(dir, name), voxel.MaskToVolume(m, geom)); err != nil {
			return err
		}
	}
	if res.Assess != nil && res.Assess.Stage2 != nil {
		if err := saveVolumeSlices(filepath.Join(dir, "good_mean"), res.Assess.Stage2.Mean); err != nil {
			return err
		}
	}
	return nil
}

func saveVolumeSlices(dir string, v *models.Volume) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	min, max := voxel.MinMax(v.Data)
	scale := 0.0
	if max > min {
		scale = 65535.0 / (max - min)
	}
	for z := 0; z < v.Geom.NZ; z++ {
		img := image.NewGray16(image.Rect(0, 0, v.Geom.NX, v.Geom.NY))
		for y := 0; y < v.Geom.NY; y++ {
			for x := 0; x < v.Geom.NX; x++ {
				img.Set(x, y, color.Gray16{Y: uint16((v.At(x, y, z) - min) * scale)})
			}
		}
		filename := filepath.Join(dir, fmt.Sprintf("%03d.jpg", z))
		f, err := os.Create(filename)
		if err != nil {
			return fmt.Errorf("failed to create snapshot file: %w", err)
		}
		if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		f.Close()
	}
	return nil
}
