package cyclegan_go

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"image"
	"image/color"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	// CIFAR10URL Binary version of CIFAR-10
	CIFAR10URL = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	// CIFAR10Folder Folder inside archive (and cache root) holding batch files
	CIFAR10Folder = "cifar-10-batches-bin"

	cifarWidth  = 32
	cifarHeight = 32
	cifarArea   = cifarWidth * cifarHeight
	cifarRecord = 1 + 3*cifarArea
)

var (
	cifarTrainBatches = []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"}
	cifarTestBatches  = []string{"test_batch.bin"}
)

// CIFAR10 Decoded CIFAR-10 images (32x32 RGB) with class labels [0; 9]
type CIFAR10 struct {
	Images   []*image.RGBA
	Labels   []int
	pipeline *Pipeline
}

// LoadCIFAR10 Reads train (5 batches, 50000 images) or test (10000 images) part of CIFAR-10 from root.
// If download is set and batch files are missing then archive is fetched and extracted into root first.
func LoadCIFAR10(root string, train, download bool, pipeline *Pipeline) (*CIFAR10, error) {
	folder := filepath.Join(root, CIFAR10Folder)
	if _, err := os.Stat(folder); os.IsNotExist(err) {
		if !download {
			return nil, errors.Wrap(err, fmt.Sprintf("CIFAR-10 is not found in '%s'", root))
		}
		if err := DownloadCIFAR10(CIFAR10URL, root); err != nil {
			return nil, errors.Wrap(err, "Can't download CIFAR-10")
		}
	}
	batches := cifarTestBatches
	if train {
		batches = cifarTrainBatches
	}
	ds := &CIFAR10{pipeline: pipeline}
	for _, name := range batches {
		f, err := os.Open(filepath.Join(folder, name))
		if err != nil {
			return nil, errors.Wrap(err, "Can't open CIFAR-10 batch")
		}
		images, labels, err := ReadCIFAR10Batch(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't read CIFAR-10 batch '%s'", name))
		}
		ds.Images = append(ds.Images, images...)
		ds.Labels = append(ds.Labels, labels...)
	}
	if len(ds.Images) == 0 {
		return nil, errors.Wrap(ErrEmptyDataset, "CIFAR-10 batches have no records")
	}
	return ds, nil
}

// ReadCIFAR10Batch Parses records of binary batch: <1 x label><1024 x red><1024 x green><1024 x blue>
func ReadCIFAR10Batch(r io.Reader) ([]*image.RGBA, []int, error) {
	images := make([]*image.RGBA, 0, 10000)
	labels := make([]int, 0, 10000)
	record := make([]uint8, cifarRecord)
	for {
		n, err := io.ReadFull(r, record)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("incomplete read: expected %d bytes got %d: %s", cifarRecord, n, err)
		}
		labels = append(labels, int(record[0]))
		img := image.NewRGBA(image.Rect(0, 0, cifarWidth, cifarHeight))
		for j := 0; j < cifarArea; j++ {
			col := color.RGBA{R: record[1+j], G: record[1+cifarArea+j], B: record[1+2*cifarArea+j], A: 255}
			img.SetRGBA(j%cifarWidth, j/cifarWidth, col)
		}
		images = append(images, img)
	}
	return images, labels, nil
}

// Len Returns number of images
func (d *CIFAR10) Len() int { return len(d.Images) }

// Shape Returns output shape of pipeline
func (d *CIFAR10) Shape() SampleShape { return d.pipeline.OutputShape() }

// Item Returns transformed idx-th image and its class
func (d *CIFAR10) Item(idx int, rng *rand.Rand) (*tensor.Dense, int, error) {
	if idx < 0 || idx >= len(d.Images) {
		return nil, 0, fmt.Errorf("Index %d is out of range [0; %d)", idx, len(d.Images))
	}
	t, err := d.pipeline.Apply(d.Images[idx], rng)
	if err != nil {
		return nil, 0, errors.Wrap(err, fmt.Sprintf("Can't transform CIFAR-10 image #%d", idx))
	}
	return t, d.Labels[idx], nil
}

// DownloadCIFAR10 Fetches tar.gz archive and extracts it into root
func DownloadCIFAR10(url, root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrap(err, "Can't create cache folder")
	}
	client := http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Get(url)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't GET '%s'", url))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Unexpected status '%s' for '%s'", resp.Status, url)
	}
	return ExtractTarGz(resp.Body, root)
}

// ExtractTarGz Unpacks regular files and folders of gzipped tar stream into dst
func ExtractTarGz(r io.Reader, dst string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "Can't open gzip stream")
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	root := filepath.Clean(dst) + string(os.PathSeparator)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "Can't read tar header")
		}
		target := filepath.Join(dst, hdr.Name)
		if target != filepath.Clean(dst) && !strings.HasPrefix(target, root) {
			return fmt.Errorf("Archive entry '%s' escapes destination folder", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrap(err, "Can't create folder")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.Wrap(err, "Can't create folder")
			}
			if err := writeFile(target, tr); err != nil {
				return errors.Wrap(err, fmt.Sprintf("Can't extract '%s'", hdr.Name))
			}
		}
	}
}

func writeFile(fname string, r io.Reader) error {
	f, err := os.Create(fname)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
