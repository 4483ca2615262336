package services

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/aiwuxian/project-mythos/internal/models"
	"github.com/aiwuxian/project-mythos/internal/tags"
)

// ExportService 把一局冒险导出为PDF战报
type ExportService struct {
	fontPath string // UTF-8字体文件，缺失时退回内置核心字体（中文会缺字）
}

func NewExportService(fontPath string) *ExportService {
	return &ExportService{fontPath: fontPath}
}

// TranscriptPDF 生成存档的对话记录PDF。标签在导出前全部剥离，
// 读者看到的是干净的叙事文本。
func (es *ExportService) TranscriptPDF(slot *models.SaveSlot) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(slot.Name, true)
	pdf.SetAutoPageBreak(true, 15)

	family := "Helvetica"
	if es.fontPath != "" {
		if _, err := os.Stat(es.fontPath); err == nil {
			pdf.AddUTF8Font("transcript", "", es.fontPath)
			family = "transcript"
		}
	}

	pdf.AddPage()
	pdf.SetFont(family, "", 16)
	pdf.MultiCell(0, 8, slot.Name, "", "C", false)
	pdf.Ln(2)

	pdf.SetFont(family, "", 10)
	info := slot.CharacterInfo
	header := fmt.Sprintf("%s · %s %s · %d级 · 第%d回合",
		info.Name, info.Race, info.Class, slot.PlayerState.Level, slot.PlayerState.TurnCount)
	pdf.MultiCell(0, 6, header, "", "C", false)
	pdf.Ln(4)

	pdf.SetFont(family, "", 11)
	for _, turn := range slot.ChatHistory {
		text := strings.TrimSpace(tags.Strip(turn.Text))
		if text == "" {
			continue
		}
		if turn.Role == "user" {
			pdf.SetTextColor(90, 90, 90)
			pdf.MultiCell(0, 6, "» "+text, "", "L", false)
		} else {
			pdf.SetTextColor(0, 0, 0)
			pdf.MultiCell(0, 6, text, "", "L", false)
		}
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("生成PDF失败: %w", err)
	}
	return buf.Bytes(), nil
}
