package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/gob"
	"fmt"

	"gorm.io/gorm/schema"
)

// JobData is the key/value state handed to a job when it fires. It is gob
// encoded for storage.
type JobData map[string]string

// GormDataType .
func (d JobData) GormDataType() string {
	return string(schema.Bytes)
}

// Scan scan value into JobData
func (d *JobData) Scan(value interface{}) error {
	*d = JobData{}
	return gobScan(value, d)
}

// Value return JobData value, implement driver.Valuer interface
func (d JobData) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return gobValue(d)
}

// Clone returns a copy that can be modified without touching d
func (d JobData) Clone() JobData {
	rtn := make(JobData, len(d))
	for k, v := range d {
		rtn[k] = v
	}
	return rtn
}

// Merge returns a copy of d overlaid with the entries of other
func (d JobData) Merge(other JobData) JobData {
	rtn := d.Clone()
	for k, v := range other {
		rtn[k] = v
	}
	return rtn
}

func gobScan(value interface{}, dst interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal value: %v", value)
	}
	if len(data) == 0 {
		return nil
	}
	return gob.NewDecoder(bytes.NewReader(data)).Decode(dst)
}

func gobValue(src interface{}) (driver.Value, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(src); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
