// Package nifti reads and writes single-file NIfTI-1 images (.nii),
// uncompressed, little-endian. It covers exactly what the pipeline needs:
// 3-D volumes, 4-D timeseries, binary masks, and geometry propagation from
// a source header onto outputs.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
)

// Datatype codes from the official nifti1 header definition.
const (
	DTUint8   = 2
	DTInt16   = 4
	DTInt32   = 8
	DTFloat32 = 16
	DTFloat64 = 64
)

const headerSize = 348

// Header is the NIfTI-1 header, field-for-field.
type Header struct {
	SizeOfHdr      int32
	DataType       [10]int8
	DbName         [18]int8
	Extents        int32
	SessionError   int16
	Regular        int8
	DimInfo        int8
	Dim            [8]int16
	IntentP1       float32
	IntentP2       float32
	IntentP3       float32
	IntentCode     int16
	Datatype       int16
	Bitpix         int16
	SliceStart     int16
	Pixdim         [8]float32
	VoxOffset      float32
	SclSlope       float32
	SclInter       float32
	SliceEnd       int16
	SliceCode      int8
	XyztUnits      int8
	CalMax         float32
	CalMin         float32
	SliceDuration  float32
	Toffset        float32
	Glmax          int32
	Glmin          int32
	Descrip        [80]int8
	AuxFile        [24]int8
	QformCode      int16
	SformCode      int16
	QuaternB       float32
	QuaternC       float32
	QuaternD       float32
	QoffsetX       float32
	QoffsetY       float32
	QoffsetZ       float32
	SrowX          [4]float32
	SrowY          [4]float32
	SrowZ          [4]float32
	IntentName     [16]int8
	Magic          [4]int8
}

// Image is a decoded NIfTI file: its header, the shared geometry and one
// volume per time point.
type Image struct {
	Header  Header
	Geom    models.Geometry
	Volumes []*models.Volume
}

// Read decodes a .nii file.
func Read(path string) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nifti: read %s: %w", path, err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("nifti: %s: file shorter than header", path)
	}

	var hdr Header
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("nifti: %s: decode header: %w", path, err)
	}
	if hdr.SizeOfHdr != headerSize {
		return nil, fmt.Errorf("nifti: %s: unsupported header size %d (big-endian files are not supported)", path, hdr.SizeOfHdr)
	}
	if hdr.Magic[0] != 'n' || hdr.Magic[1] != '+' || hdr.Magic[2] != '1' {
		return nil, fmt.Errorf("nifti: %s: not a single-file NIfTI-1 image", path)
	}

	ndim := int(hdr.Dim[0])
	if ndim < 3 || ndim > 4 {
		return nil, fmt.Errorf("nifti: %s: need a 3-D or 4-D image, got %d-D", path, ndim)
	}
	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	nt := 1
	if ndim == 4 {
		nt = int(hdr.Dim[4])
	}
	if nx <= 0 || ny <= 0 || nz <= 0 || nt <= 0 {
		return nil, fmt.Errorf("nifti: %s: malformed dimensions %dx%dx%dx%d", path, nx, ny, nz, nt)
	}

	geom := models.Geometry{
		NX:        nx,
		NY:        ny,
		NZ:        nz,
		VoxelSize: [3]float64{float64(hdr.Pixdim[1]), float64(hdr.Pixdim[2]), float64(hdr.Pixdim[3])},
		Origin:    [3]float64{float64(hdr.QoffsetX), float64(hdr.QoffsetY), float64(hdr.QoffsetZ)},
	}

	vo := float64(hdr.VoxOffset)
	if math.IsNaN(vo) || vo < headerSize || vo > float64(len(raw)) {
		return nil, fmt.Errorf("nifti: %s: vox_offset %v outside the file", path, hdr.VoxOffset)
	}
	data := raw[int(vo):]
	voxPerVol := geom.VoxelCount()
	slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
	if slope == 0 {
		slope = 1
	}

	img := &Image{Header: hdr, Geom: geom}
	for t := 0; t < nt; t++ {
		vol := models.NewVolume(geom)
		for i := 0; i < voxPerVol; i++ {
			v, err := readVoxel(data, hdr.Datatype, t*voxPerVol+i)
			if err != nil {
				return nil, fmt.Errorf("nifti: %s: %w", path, err)
			}
			vol.Data[i] = v*slope + inter
		}
		img.Volumes = append(img.Volumes, vol)
	}
	logrus.WithFields(logrus.Fields{"path": path, "dims": fmt.Sprintf("%dx%dx%dx%d", nx, ny, nz, nt)}).
		Debug("nifti: loaded image")
	return img, nil
}

func readVoxel(data []byte, datatype int16, idx int) (float64, error) {
	switch datatype {
	case DTUint8:
		if idx >= len(data) {
			return 0, fmt.Errorf("truncated data section")
		}
		return float64(data[idx]), nil
	case DTInt16:
		off := idx * 2
		if off+2 > len(data) {
			return 0, fmt.Errorf("truncated data section")
		}
		return float64(int16(binary.LittleEndian.Uint16(data[off:]))), nil
	case DTInt32:
		off := idx * 4
		if off+4 > len(data) {
			return 0, fmt.Errorf("truncated data section")
		}
		return float64(int32(binary.LittleEndian.Uint32(data[off:]))), nil
	case DTFloat32:
		off := idx * 4
		if off+4 > len(data) {
			return 0, fmt.Errorf("truncated data section")
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))), nil
	case DTFloat64:
		off := idx * 8
		if off+8 > len(data) {
			return 0, fmt.Errorf("truncated data section")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data[off:])), nil
	default:
		return 0, fmt.Errorf("unsupported datatype code %d", datatype)
	}
}

// ReadTimeseries loads a 4-D image as a timeseries.
func ReadTimeseries(path string) (*models.Timeseries, error) {
	img, err := Read(path)
	if err != nil {
		return nil, err
	}
	return models.NewTimeseries(img.Geom, img.Volumes)
}

// ReadVolume loads a 3-D image (or the first volume of a 4-D one).
func ReadVolume(path string) (*models.Volume, error) {
	img, err := Read(path)
	if err != nil {
		return nil, err
	}
	return img.Volumes[0], nil
}

// ReadMask loads a 3-D image as a binary mask; any non-zero voxel is set.
func ReadMask(path string) (*models.Mask, error) {
	vol, err := ReadVolume(path)
	if err != nil {
		return nil, err
	}
	m := models.NewMask(vol.Geom.NX, vol.Geom.NY, vol.Geom.NZ)
	for i, v := range vol.Data {
		m.Data[i] = v != 0
	}
	return m, nil
}

// WriteTimeseries writes volumes as a float32 4-D .nii with the geometry of
// the given source geometry.
func WriteTimeseries(path string, geom models.Geometry, vols []*models.Volume) error {
	hdr := newHeader(geom, len(vols))
	return writeImage(path, hdr, geom, vols)
}

// WriteVolume writes one volume as a float32 3-D .nii.
func WriteVolume(path string, vol *models.Volume) error {
	hdr := newHeader(vol.Geom, 1)
	hdr.Dim[0] = 3
	return writeImage(path, hdr, vol.Geom, []*models.Volume{vol})
}

// WriteMask writes a mask as a uint8-valued float32 image.
func WriteMask(path string, m *models.Mask, geom models.Geometry) error {
	vol := models.NewVolume(geom)
	for i, b := range m.Data {
		if b {
			vol.Data[i] = 1
		}
	}
	return WriteVolume(path, vol)
}

func newHeader(geom models.Geometry, nt int) Header {
	var hdr Header
	hdr.SizeOfHdr = headerSize
	hdr.Dim = [8]int16{4, int16(geom.NX), int16(geom.NY), int16(geom.NZ), int16(nt), 1, 1, 1}
	hdr.Datatype = DTFloat32
	hdr.Bitpix = 32
	hdr.Pixdim = [8]float32{1,
		float32(geom.VoxelSize[0]), float32(geom.VoxelSize[1]), float32(geom.VoxelSize[2]),
		1, 1, 1, 1}
	hdr.VoxOffset = 352
	hdr.SclSlope = 1
	hdr.QformCode = 1
	hdr.QoffsetX = float32(geom.Origin[0])
	hdr.QoffsetY = float32(geom.Origin[1])
	hdr.QoffsetZ = float32(geom.Origin[2])
	hdr.Magic = [4]int8{'n', '+', '1', 0}
	return hdr
}

func writeImage(path string, hdr Header, geom models.Geometry, vols []*models.Volume) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("nifti: encode header: %w", err)
	}
	// Pad to vox_offset (4-byte extension flag, all zero).
	for buf.Len() < int(hdr.VoxOffset) {
		buf.WriteByte(0)
	}
	tmp := make([]byte, 4)
	for _, vol := range vols {
		if !vol.Geom.Equal(geom) {
			return fmt.Errorf("nifti: volume geometry mismatch on write")
		}
		for _, v := range vol.Data {
			binary.LittleEndian.PutUint32(tmp, math.Float32bits(float32(v)))
			buf.Write(tmp)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("nifti: write %s: %w", path, err)
	}
	return nil
}
