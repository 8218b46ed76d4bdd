package filetype

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtension(t *testing.T) {
	require.Equal(t, ".pdf", Extension("report.pdf"))
	require.Equal(t, ".pdf", Extension("REPORT.PDF"))
	require.Equal(t, ".gz", Extension("archive.tar.gz"))
	require.Equal(t, "", Extension("noextension"))
	require.Equal(t, "", Extension("trailingdot."))
}

func TestSupported(t *testing.T) {
	require.True(t, Supported("notes.txt"))
	require.True(t, Supported("slides.PPTX"))
	require.True(t, Supported("paper.tex"))
	require.False(t, Supported("photo.png"))
	require.False(t, Supported("clip.mp4"))
	require.False(t, Supported("binary"))
}

func TestIsPDF(t *testing.T) {
	require.True(t, IsPDF("doc.pdf"))
	require.True(t, IsPDF("DOC.Pdf"))
	require.False(t, IsPDF("doc.docx"))
}
