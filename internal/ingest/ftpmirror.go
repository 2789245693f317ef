package ingest

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

const DefaultFTPAddr = "ftp.seismo.nrcan.gc.ca:21"

// FTPMirror fetches provisional second-cadence day files from an
// INTERMAGNET FTP mirror. It serves as the fallback when the GIN web
// service has nothing for a day.
type FTPMirror struct {
	addr string
}

func NewFTPMirror(addr string) *FTPMirror {
	if addr == "" {
		addr = DefaultFTPAddr
	}
	return &FTPMirror{addr: addr}
}

// FetchDay retrieves and decompresses one day file. A missing file on
// the mirror maps to ErrNotFound.
func (m *FTPMirror) FetchDay(code string, day time.Time) ([]byte, error) {
	conn, err := ftp.Dial(m.addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	path := fmt.Sprintf("/intermagnet/second/provisional/IAGA2002/%04d/%02d/%s%spsec.sec.gz",
		day.Year(), int(day.Month()), strings.ToLower(code), day.Format("20060102"))

	resp, err := conn.Retr(path)
	if err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ftp retr %s: %w", path, err)
	}
	defer resp.Close()

	gz, err := gzip.NewReader(resp)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	defer gz.Close()

	body, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return body, nil
}
