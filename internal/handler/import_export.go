package handler

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"smb-ledger/internal/models"
	"smb-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

var exportHeaders = []string{"Date", "Type", "Category", "Description", "Amount", "Balance"}

func exportRow(e *models.CashFlowEntry) []string {
	return []string{
		formatDate(e.Date),
		e.Type,
		e.Category,
		e.Description,
		util.FormatAmount(e.AmountCents),
		util.FormatAmount(e.BalanceCents),
	}
}

func exportName(ext string) string {
	return fmt.Sprintf("cash_flow_%s.%s", time.Now().Format("20060102"), ext)
}

// ExportCSV writes the cash flow of the requested range as UTF-8 CSV with a BOM.
func (h *CashFlowHandler) ExportCSV(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	list, ok := h.entries(c, user.ID)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", exportName("csv")))
	c.Status(http.StatusOK)

	// BOM so spreadsheet tools detect UTF-8
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})
	w := csv.NewWriter(c.Writer)
	w.Write(exportHeaders)
	for i := range list {
		w.Write(exportRow(&list[i]))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		util.Fail(c, util.Internal("write csv", err))
	}
}

// ExportXLSX writes the cash flow of the requested range as a spreadsheet.
func (h *CashFlowHandler) ExportXLSX(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	list, ok := h.entries(c, user.ID)
	if !ok {
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Cash Flow"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		util.Fail(c, util.Internal("create sheet", err))
		return
	}

	if err := f.SetSheetRow(sheet, "A1", &exportHeaders); err != nil {
		util.Fail(c, util.Internal("write header", err))
		return
	}
	for i := range list {
		e := &list[i]
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			formatDate(e.Date),
			e.Type,
			e.Category,
			e.Description,
			float64(e.AmountCents) / 100,
			float64(e.BalanceCents) / 100,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			util.Fail(c, util.Internal("write row", err))
			return
		}
	}
	f.SetColWidth(sheet, "A", "A", 12)
	f.SetColWidth(sheet, "B", "C", 14)
	f.SetColWidth(sheet, "D", "D", 36)
	f.SetColWidth(sheet, "E", "F", 14)

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", exportName("xlsx")))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		util.Fail(c, util.Internal("write xlsx", err))
	}
}
