package elfobj

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

// buffer is an in-memory io.WriteSeeker.
type buffer struct {
	b   []byte
	pos int64
}

// Encode returns the serialized container.
func Encode(f *File, opts Options) ([]byte, error) {
	var b buffer

	err := Write(&b, f, opts)
	if err != nil {
		return nil, err
	}

	return b.b, nil
}

// WriteFile writes f to a temporary file next to name and renames it on success,
// so a failed write never leaves a partial file under name.
func WriteFile(ctx context.Context, name string, f *File, opts Options, perm os.FileMode) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "elf: write file", "name", name, "type", f.Type, "class", f.Class)
	defer tr.Finish("err", &err)

	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp")
	}

	defer func() {
		if err == nil {
			return
		}

		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	err = Write(tmp, f, opts)
	if err != nil {
		return err
	}

	err = tmp.Chmod(perm)
	if err != nil {
		return errors.Wrap(err, "chmod")
	}

	err = tmp.Close()
	if err != nil {
		return errors.Wrap(err, "close")
	}

	err = os.Rename(tmp.Name(), name)
	if err != nil {
		return errors.Wrap(err, "rename")
	}

	return nil
}

func (b *buffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))

	if end > int64(len(b.b)) {
		b.b = append(b.b, make([]byte, end-int64(len(b.b)))...)
	}

	copy(b.b[b.pos:], p)
	b.pos = end

	return len(p), nil
}

func (b *buffer) Seek(off int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		off += b.pos
	case io.SeekEnd:
		off += int64(len(b.b))
	default:
		return 0, errors.New("bad whence: %d", whence)
	}

	if off < 0 {
		return 0, errors.New("negative position: %d", off)
	}

	b.pos = off

	return off, nil
}
