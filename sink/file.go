package sink

import (
	"encoding/json"
	"os"
	"path"

	"github.com/pkg/errors"
)

// FileSink appends JSON lines to a data.log under a directory per record
// kind. The file is reopened for each write so log rotation can happen
// behind our back.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating sink directory")
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Record(kind Kind, payload map[string]interface{}) error {
	dir := path.Join(s.dir, string(kind))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating kind directory")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}
	fio, err := os.OpenFile(path.Join(dir, "data.log"), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0660)
	if err != nil {
		return errors.Wrap(err, "opening log")
	}
	defer fio.Close()
	if _, err := fio.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "writing record")
	}
	return nil
}

func (s *FileSink) Close() error {
	return nil
}
