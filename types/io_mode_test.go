package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseIOMode(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    IOMode
		wantErr bool
	}{
		{in: "auto", want: IOModeAuto},
		{in: "ION", want: IOModeION},
		{in: " drm ", want: IOModeDRM},
		{in: "drmbuf", want: IOModeDRM},
		{in: "dmabuf-import", want: IOModeDMABufImport},
		{in: "dmabuf", want: IOModeDMABufImport},
		{in: "rw", want: IOModeRW},
		{in: "userptr", want: IOModeUserPtr},
		{in: "mmap", wantErr: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseIOMode(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)

			var m IOMode
			require.NoError(t, m.UnmarshalText([]byte(got.String())))
			require.Equal(t, got, m)
		})
	}
}

func TestIOModeCapabilities(t *testing.T) {
	require.True(t, IOModeION.IsInternal())
	require.True(t, IOModeDRM.IsInternal())
	require.False(t, IOModeDMABufImport.IsInternal())
	require.True(t, IOModeDMABufImport.UsesAllocator())
	require.False(t, IOModeRW.UsesAllocator())
	require.False(t, IOModeAuto.UsesAllocator())
}
