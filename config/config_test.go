package config

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestRequiredString(t *testing.T) {
	t.Setenv("CLEARAUCTION_TEST_STR", "value")

	v, err := RequiredString("CLEARAUCTION_TEST_STR")
	check.Nil(t, err)
	check.Equal(t, "value", v)

	_, err = RequiredString("CLEARAUCTION_TEST_UNSET")
	check.Error(t, err)
}

func TestRequiredInt(t *testing.T) {
	t.Setenv("CLEARAUCTION_TEST_INT", "42")
	v, err := RequiredInt("CLEARAUCTION_TEST_INT")
	check.Nil(t, err)
	check.Equal(t, 42, v)

	t.Setenv("CLEARAUCTION_TEST_INT", "not-a-number")
	_, err = RequiredInt("CLEARAUCTION_TEST_INT")
	check.Error(t, err)
}

func TestOptionalGetters(t *testing.T) {
	check.Equal(t, "fallback", String("CLEARAUCTION_TEST_UNSET", "fallback"))

	v, err := Int("CLEARAUCTION_TEST_UNSET", 7)
	check.Nil(t, err)
	check.Equal(t, 7, v)

	t.Setenv("CLEARAUCTION_TEST_INT", "3")
	v, err = Int("CLEARAUCTION_TEST_INT", 7)
	check.Nil(t, err)
	check.Equal(t, 3, v)

	d, err := Duration("CLEARAUCTION_TEST_UNSET", time.Minute)
	check.Nil(t, err)
	check.Equal(t, time.Minute, d)

	t.Setenv("CLEARAUCTION_TEST_DUR", "250ms")
	d, err = Duration("CLEARAUCTION_TEST_DUR", time.Minute)
	check.Nil(t, err)
	check.Equal(t, 250*time.Millisecond, d)

	t.Setenv("CLEARAUCTION_TEST_DUR", "bogus")
	_, err = Duration("CLEARAUCTION_TEST_DUR", time.Minute)
	check.Error(t, err)
}
