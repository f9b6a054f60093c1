package pkgfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

// IndexURL joins a remote base url and its index path.
func IndexURL(base, indexPath string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(indexPath, "/")
}

// FetchCatalog downloads the catalog document at base/indexPath and returns
// it decoded. A gzip Content-Encoding is undone first; when keyring is
// non-nil the result must match the detached armored signature published
// next to it as <index>.asc. Finally a .gz or .xz index path is
// decompressed.
//
// Exhausted retries and transport failures are reported as
// ErrRemoteUnreachable; bad encodings as ErrMalformedCatalog.
func (d *Downloader) FetchCatalog(ctx context.Context, base, indexPath string, keyring openpgp.EntityList) ([]byte, error) {
	log := logger.Logger()
	url := IndexURL(base, indexPath)

	var raw []byte
	header := http.Header{"Accept-Encoding": []string{"gzip"}}
	err := d.fetch(ctx, url, header, func(resp *http.Response, body io.Reader) error {
		data, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
			data, err = Decompress(CompressionGzip, data)
			if err != nil {
				return fmt.Errorf("%w: %v", cookbook.ErrMalformedCatalog, err)
			}
		}
		raw = data
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, cookbook.ErrMalformedCatalog) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", cookbook.ErrRemoteUnreachable, err)
	}
	log.Debugf("fetched catalog %s (%d bytes)", url, len(raw))

	if keyring != nil {
		sig, err := d.Get(ctx, url+".asc")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("fetching catalog signature: %w: %v", cookbook.ErrSignatureInvalid, err)
		}
		signer, err := VerifyDetached(keyring, raw, sig)
		if err != nil {
			return nil, err
		}
		log.Infof("catalog signature verified (key %X)", signer.PrimaryKey.KeyId)
	}

	doc, err := Decompress(CompressionFor(indexPath), raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cookbook.ErrMalformedCatalog, err)
	}
	return doc, nil
}

// LoadKeyRing reads an armored OpenPGP public key file.
func LoadKeyRing(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signing key: %w", err)
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}
	return keyring, nil
}

// VerifyDetached checks an armored detached signature over data.
func VerifyDetached(keyring openpgp.EntityList, data, signature []byte) (*openpgp.Entity, error) {
	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cookbook.ErrSignatureInvalid, err)
	}
	return signer, nil
}
