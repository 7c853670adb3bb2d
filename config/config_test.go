package config

import (
	"os"
	"reflect"
	"testing"
)

func TestVersionString(t *testing.T) {
	typ := reflect.TypeOf(Version)
	if typ.String() != "string" {
		t.Errorf("expected Version to be a string, got %#v (type %#v)", Version, typ.String())
	}
}

func TestGetInt(t *testing.T) {
	err := os.Setenv("CONFIG_TEST_INT_VAR", "5")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		os.Unsetenv("CONFIG_TEST_INT_VAR")
	}()
	i, err := GetInt("CONFIG_TEST_INT_VAR")
	if err != nil {
		t.Fatal(err)
	}
	if i != 5 {
		t.Errorf("expected 5, got %d", i)
	}
}

func TestGetIntError(t *testing.T) {
	err := os.Setenv("CONFIG_TEST_INT_VAR", "bad")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		os.Unsetenv("CONFIG_TEST_INT_VAR")
	}()
	_, err = GetInt("CONFIG_TEST_INT_VAR")
	if err == nil {
		t.Error("expected an error getting a bad env var, got nil")
	}
}

func TestGetStringDefault(t *testing.T) {
	os.Unsetenv("CONFIG_TEST_STRING_VAR")
	if s := GetString("CONFIG_TEST_STRING_VAR", "fallback"); s != "fallback" {
		t.Errorf("expected fallback, got %q", s)
	}
	os.Setenv("CONFIG_TEST_STRING_VAR", "set")
	defer os.Unsetenv("CONFIG_TEST_STRING_VAR")
	if s := GetString("CONFIG_TEST_STRING_VAR", "fallback"); s != "set" {
		t.Errorf("expected set, got %q", s)
	}
}
