package main

import (
	"strconv"
	"strings"
)

// boolFlag records whether the flag appeared on the command line so that
// "modify" can distinguish "leave unchanged" from an explicit true/false.
type boolFlag struct {
	value bool
	set   bool
}

func (b *boolFlag) Set(s string) error {
	val, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	b.value = val
	b.set = true
	return nil
}

func (b *boolFlag) String() string {
	return strconv.FormatBool(b.value)
}

func (b *boolFlag) IsBoolFlag() bool {
	return true
}

type stringFlag struct {
	value string
	set   bool
}

func (s *stringFlag) Set(v string) error {
	s.value = v
	s.set = true
	return nil
}

func (s *stringFlag) String() string {
	return s.value
}

type intFlag struct {
	value int
	set   bool
}

func (i *intFlag) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	i.value = v
	i.set = true
	return nil
}

func (i *intFlag) String() string {
	return strconv.Itoa(i.value)
}

// multiStringFlag collects repeated flag values. Each value may itself be a
// space-separated list, so --varnames "rho ux" and --varnames rho
// --varnames ux are equivalent.
type multiStringFlag struct {
	values []string
	set    bool
}

func (m *multiStringFlag) Set(s string) error {
	m.values = append(m.values, strings.Fields(s)...)
	m.set = true
	return nil
}

func (m *multiStringFlag) String() string {
	return strings.Join(m.values, " ")
}

func (m *multiStringFlag) Values() []string {
	return append([]string(nil), m.values...)
}
