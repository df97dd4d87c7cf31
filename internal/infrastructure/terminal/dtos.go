package terminal

import (
	"encoding/xml"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
)

// Request envelope posted to the terminal.
type tStream struct {
	XMLName     xml.Name    `xml:"TStream"`
	Transaction transaction `xml:"Transaction"`
}

type transaction struct {
	TranType   string  `xml:"TranType"`
	TranCode   string  `xml:"TranCode"`
	TerminalID string  `xml:"TerminalID"`
	InvoiceNo  string  `xml:"InvoiceNo,omitempty"`
	RefNo      string  `xml:"RefNo,omitempty"`
	RecordNo   string  `xml:"RecordNo,omitempty"`
	Amount     *amount `xml:"Amount,omitempty"`
}

type amount struct {
	Purchase string `xml:"Purchase,omitempty"`
	Gratuity string `xml:"Gratuity,omitempty"`
}

// Response envelope returned by the terminal.
type rStream struct {
	XMLName      xml.Name     `xml:"RStream"`
	CmdResponse  cmdResponse  `xml:"CmdResponse"`
	TranResponse tranResponse `xml:"TranResponse"`
}

type cmdResponse struct {
	ResponseOrigin string `xml:"ResponseOrigin"`
	DSIXReturnCode string `xml:"DSIXReturnCode"`
	CmdStatus      string `xml:"CmdStatus"`
	TextResponse   string `xml:"TextResponse"`
}

type tranResponse struct {
	AuthCode          string         `xml:"AuthCode"`
	RefNo             string         `xml:"RefNo"`
	RecordNo          string         `xml:"RecordNo"`
	CardType          string         `xml:"CardType"`
	AcctNo            string         `xml:"AcctNo"`
	EntryMethod       string         `xml:"EntryMethod"`
	SignatureRequired bool           `xml:"SignatureRequired"`
	Retryable         bool           `xml:"Retryable"`
	Amount            responseAmount `xml:"Amount"`
}

type responseAmount struct {
	Authorize string `xml:"Authorize"`
	Gratuity  string `xml:"Gratuity"`
}

// Command status values.
const (
	statusApproved = "Approved"
	statusSuccess  = "Success"
	statusDeclined = "Declined"
	statusBusy     = "Busy"
	statusNotFound = "NotFound"
)

type tranCode struct {
	tranType string
	code     string
	class    deviceClass
}

type deviceClass int

const (
	classEMV deviceClass = iota
	classPrompt
	classAdmin
)

var tranCodes = map[application.RequestType]tranCode{
	application.RequestSale:            {"Credit", "EMVSale", classEMV},
	application.RequestPreAuth:         {"Credit", "EMVPreAuth", classEMV},
	application.RequestIncrementalAuth: {"Credit", "IncrementalAuthByRecordNo", classEMV},
	application.RequestCapture:         {"Credit", "PreAuthCaptureByRecordNo", classAdmin},
	application.RequestVoid:            {"Credit", "VoidSaleByRecordNo", classAdmin},
	application.RequestRefund:          {"Credit", "ReturnByRecordNo", classAdmin},
	application.RequestBatchClose:      {"Admin", "BatchClose", classAdmin},
	application.RequestGetSignature:    {"Prompt", "GetSignature", classPrompt},
	application.RequestGetTip:          {"Prompt", "GetTip", classPrompt},
	application.RequestStatusCheck:     {"Admin", "StatusCheckByRefNo", classAdmin},
}
