package persist

import (
	"testing"

	"github.com/simpleframeworks/testc"
)

func TestCondValidate(test *testing.T) {
	t := testc.New(test)

	t.NoError(Eq("next_fire_time", 1).Validate())
	t.NoError(IsNull("calendar_name").Validate())
	t.NoError(Desc("priority").Validate())

	t.Error(Eq("Name", 1).Validate())
	t.Error(Eq("name; drop table", 1).Validate())
	t.Error(Cond{Field: "name", Op: "LIKE"}.Validate())
	t.Error(Asc("").Validate())
}

func TestIsTransient(test *testing.T) {
	t := testc.New(test)

	t.False(IsTransient(nil))
	t.False(IsTransient(ErrDuplicateKey))
	t.False(IsTransient(ErrNotFound))
}
