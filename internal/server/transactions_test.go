package server

import (
	"errors"
	"net/http"

	"github.com/zombor/caretrack/internal/expense"
	"github.com/zombor/caretrack/internal/triage"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const statementOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>CHK-001
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-42.50
<FITID>2024011501
<NAME>CVS/PHARMACY #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>-180.00
<FITID>2024012001
<NAME>MERCY HOME HEALTH
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240125120000[0:GMT]
<TRNAMT>15.25
<FITID>2024012501
<NAME>WALGREENS REFUND
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

const (
	cvsKey    = "CHK-001:2024011501"
	mercyKey  = "CHK-001:2024012001"
	refundKey = "CHK-001:2024012501"
)

var _ = Describe("Transactions", func() {
	var env *testEnv

	BeforeEach(func() {
		env = newTestEnv()
	})

	JustBeforeEach(func() {
		env.start()
		var result triage.SyncResult
		resp := env.postFile("/api/transactions/import", "checking.qfx", []byte(statementOFX))
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		decode(resp, &result)
		Expect(result.New).To(Equal(3))
	})

	AfterEach(func() {
		env.stop()
	})

	Describe("import", func() {
		It("does not reset decisions when a statement is imported again", func() {
			env.postJSON("/api/transactions/"+cvsKey+"/skip", nil).Body.Close()

			var result triage.SyncResult
			decode(env.postFile("/api/transactions/import", "checking.qfx", []byte(statementOFX)), &result)
			Expect(result.New).To(Equal(0))

			var d expense.TriageDecision
			decode(env.get("/api/transactions/"+cvsKey+"/decision"), &d)
			Expect(d.State).To(Equal(expense.StateSkipped))
		})

		It("rejects files that are not statements", func() {
			resp := env.postFile("/api/transactions/import", "notes.txt", []byte("hello"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("review", func() {
		It("lists every pending transaction with candidates first", func() {
			var items []triage.Item
			decode(env.get("/api/transactions/review"), &items)
			Expect(items).To(HaveLen(3))
			Expect(items[0].Transaction.Key()).To(Equal(mercyKey))
			Expect(items[1].Transaction.Key()).To(Equal(cvsKey))
			Expect(items[2].Transaction.Key()).To(Equal(refundKey))
			Expect(items[2].Score.Candidate).To(BeFalse())
		})

		It("filters to candidates", func() {
			var items []triage.Item
			decode(env.get("/api/transactions/review?view=candidates"), &items)
			Expect(items).To(HaveLen(2))
		})

		It("rejects an unknown view", func() {
			resp := env.get("/api/transactions/review?view=everything")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("keep", func() {
		It("records a kept decision with a suggested draft", func() {
			resp := env.postJSON("/api/transactions/"+cvsKey+"/keep", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var d expense.TriageDecision
			decode(resp, &d)
			Expect(d.State).To(Equal(expense.StateKept))
			Expect(d.Draft.Category).To(Equal("Medical Care"))
			Expect(d.Draft.Amount.StringFixed(2)).To(Equal("42.50"))
			Expect(d.Draft.SourceRef).To(Equal(expense.SourceRef{Type: expense.SourceTransaction, ID: cvsKey}))
		})

		It("applies overrides", func() {
			resp := env.postJSON("/api/transactions/"+cvsKey+"/keep", map[string]any{
				"careRecipientId": "dad",
				"description":     "Dad's prescriptions",
			})
			var d expense.TriageDecision
			decode(resp, &d)
			Expect(d.Draft.CareRecipientID).To(Equal("dad"))
			Expect(d.Draft.Description).To(Equal("Dad's prescriptions"))
		})

		It("returns 409 with the current decision when already decided", func() {
			env.postJSON("/api/transactions/"+cvsKey+"/skip", nil).Body.Close()

			resp := env.postJSON("/api/transactions/"+cvsKey+"/keep", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			var body errorResponse
			decode(resp, &body)
			Expect(body.Kind).To(Equal("already decided"))
			Expect(body.Decision).NotTo(BeNil())
			Expect(body.Decision.State).To(Equal(expense.StateSkipped))
		})

		It("returns 404 for an unknown transaction", func() {
			resp := env.postJSON("/api/transactions/CHK-001:nope/keep", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("reset", func() {
		It("makes a skipped transaction keepable again", func() {
			env.postJSON("/api/transactions/"+cvsKey+"/skip", nil).Body.Close()

			resp := env.postJSON("/api/transactions/"+cvsKey+"/reset", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			resp = env.postJSON("/api/transactions/"+cvsKey+"/keep", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("materialize", func() {
		It("adds a kept transaction to the ledger once", func() {
			env.postJSON("/api/transactions/"+mercyKey+"/keep", nil).Body.Close()

			resp := env.postJSON("/api/transactions/"+mercyKey+"/materialize", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var first expense.Expense
			decode(resp, &first)
			Expect(first.Category).To(Equal("Caregiving"))

			resp = env.postJSON("/api/transactions/"+mercyKey+"/materialize", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var second expense.Expense
			decode(resp, &second)
			Expect(second.ID).To(Equal(first.ID))
		})

		It("refuses transactions that were not kept", func() {
			resp := env.postJSON("/api/transactions/"+refundKey+"/materialize", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})
	})

	Describe("sync", func() {
		It("runs the bank sync", func() {
			env.bankSync.result = triage.SyncResult{Received: 4, New: 2}
			resp := env.postJSON("/api/transactions/sync", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body syncResponse
			decode(resp, &body)
			Expect(body.New).To(Equal(2))
			Expect(env.bankSync.calls).To(Equal(1))
		})

		It("returns 502 when a source fails", func() {
			env.bankSync.err = errors.New("ITEM_LOGIN_REQUIRED")
			resp := env.postJSON("/api/transactions/sync", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(readBody(resp)).NotTo(ContainSubstring("ITEM_LOGIN_REQUIRED"))
		})
	})
})
