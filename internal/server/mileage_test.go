package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/zombor/caretrack/internal/mileage"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Mileage", func() {
	var env *testEnv

	BeforeEach(func() {
		env = newTestEnv()
	})

	JustBeforeEach(func() {
		env.start()
	})

	AfterEach(func() {
		env.stop()
	})

	It("returns the distance and prices it when a rate is given", func() {
		minutes := 21.5
		env.distance.distance = &mileage.Distance{Miles: 12.4, Origin: "Home", Destination: "Clinic", DurationMinutes: &minutes}

		resp := env.postJSON("/api/mileage", map[string]any{"from": "Home", "to": "Clinic", "ratePerMile": "0.21"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(readBody(resp)).To(MatchJSON(`{
			"miles": 12.4, "origin": "Home", "destination": "Clinic", "durationMinutes": 21.5, "amount": "2.6"
		}`))
		Expect(env.distance.route).To(Equal(mileage.Route{From: "Home", To: "Clinic"}))
	})

	It("returns 400 with the error details for a missing address", func() {
		env.distance.err = &mileage.Error{Status: 400, Message: "Could not find address", Details: "to: Clinic"}
		env.distance.err = fmt.Errorf("resolving: %w", errors.Join(env.distance.err, mileage.ErrMissingAddress))

		resp := env.postJSON("/api/mileage", map[string]any{"from": "Home", "to": "Clinic"})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

		var body errorResponse
		decode(resp, &body)
		Expect(body.Error).To(Equal("Could not find address"))
		Expect(body.Details).To(Equal("to: Clinic"))
	})

	It("returns 500 when the provider fails", func() {
		env.distance.err = mileage.ErrUpstream

		resp := env.postJSON("/api/mileage", map[string]any{"from": "Home", "to": "Clinic"})
		Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		resp.Body.Close()
	})
})
