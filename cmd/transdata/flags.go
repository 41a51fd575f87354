package main

import (
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bamsammich/transdata/internal/config"
)

// sizeValue is a pflag.Value holding a byte count given in human form
// ("10M", "64K").
type sizeValue int64

var _ pflag.Value = (*sizeValue)(nil)

func (s *sizeValue) String() string {
	if *s == 0 {
		return ""
	}
	return strconv.FormatInt(int64(*s), 10)
}

func (*sizeValue) Type() string { return "size" }

func (s *sizeValue) Set(val string) error {
	n, err := config.ParseSize(val)
	if err != nil {
		return err
	}
	*s = sizeValue(n)
	return nil
}
