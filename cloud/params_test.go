package cloud_test

import (
	"testing"

	"github.com/jrsteele09/mihome-cloud/cloud"
	"github.com/stretchr/testify/require"
)

func TestParams_SetKeepsOrder(t *testing.T) {
	p := cloud.Params{{Key: "b", Value: "1"}, {Key: "a", Value: "2"}}
	p = p.Set("a", "3")
	p = p.Set("c", "4")

	require.Equal(t, cloud.Params{{Key: "b", Value: "1"}, {Key: "a", Value: "3"}, {Key: "c", Value: "4"}}, p)
	v, ok := p.Get("a")
	require.True(t, ok)
	require.Equal(t, "3", v)
	_, ok = p.Get("missing")
	require.False(t, ok)
}

func TestParams_Encode(t *testing.T) {
	p := cloud.Params{{Key: "z", Value: "a+b/c="}, {Key: "data", Value: `{"fg":true}`}}
	require.Equal(t, "z=a%2Bb%2Fc%3D&data=%7B%22fg%22%3Atrue%7D", p.Encode())
}

func TestParams_CloneIsIndependent(t *testing.T) {
	p := cloud.Params{{Key: "a", Value: "1"}}
	c := p.Clone()
	c[0].Value = "2"
	require.Equal(t, "1", p[0].Value)
}
