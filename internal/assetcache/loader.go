package assetcache

import (
	"bytes"
	"fmt"
	"os"

	"github.com/wujiajunhahah/dreamvision/pkg/usdz"
)

// Loader opens a cached file the way the renderer would. A nil error means
// the renderer can display it.
type Loader interface {
	Load(path, format string) error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path, format string) error

func (f LoaderFunc) Load(path, format string) error {
	return f(path, format)
}

var (
	usdaMagic = []byte("#usda")
	usdcMagic = []byte("PXR-USDC")
)

// USDLoader accepts only the USD family the platform renderer reads.
type USDLoader struct{}

func (USDLoader) Load(path, format string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read asset: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("asset is empty")
	}
	switch format {
	case "usdz":
		_, err := usdz.Inspect(data)
		return err
	case "reality":
		_, err := usdz.OpenArchive(data)
		return err
	case "usda":
		return expectMagic(data, usdaMagic)
	case "usdc":
		return expectMagic(data, usdcMagic)
	case "usd":
		if bytes.HasPrefix(data, usdaMagic) || bytes.HasPrefix(data, usdcMagic) {
			return nil
		}
		return fmt.Errorf("usd layer has neither a text nor a crate header")
	default:
		return fmt.Errorf("renderer cannot load %s assets", format)
	}
}

func expectMagic(data, magic []byte) error {
	if !bytes.HasPrefix(data, magic) {
		return fmt.Errorf("missing %q header", magic)
	}
	return nil
}
