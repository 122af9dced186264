package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docchat/internal/domain"
)

func TestDetectKind(t *testing.T) {
	assert.Equal(t, domain.KindPDF, DetectKind("manual.PDF"))
	assert.Equal(t, domain.KindHTML, DetectKind("page.html"))
	assert.Equal(t, domain.KindHTML, DetectKind("page.htm"))
	assert.Equal(t, domain.KindText, DetectKind("notes.txt"))
	assert.Equal(t, domain.KindText, DetectKind("readme.md"))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("a.pdf"))
	assert.True(t, IsSupported("a.txt"))
	assert.True(t, IsSupported("a.html"))
	assert.False(t, IsSupported("a.exe"))
	assert.False(t, IsSupported("archive.zip"))
}

func TestDecodeText(t *testing.T) {
	t.Run("valid utf8 passes through", func(t *testing.T) {
		assert.Equal(t, "héllo", DecodeText([]byte("héllo")))
	})

	t.Run("invalid bytes replaced, not fatal", func(t *testing.T) {
		decoded := DecodeText([]byte{'a', 0xff, 'b'})
		assert.Equal(t, "a�b", decoded)
	})
}

func TestPDFPagesCorrupt(t *testing.T) {
	_, err := PDFPages([]byte("not a pdf at all"))
	assert.Error(t, err)
}
