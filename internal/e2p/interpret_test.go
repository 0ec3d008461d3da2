package e2p

import "testing"

func TestInterpret(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Outcome
	}{
		{"success marker", `{"success":"Pagamento realizado com sucesso"}`, OutcomeSuccess},
		{"success marker uppercase", `{"success":"Transação concluída com SUCESSO"}`, OutcomeDeclined},
		{"error field", `{"error":"Saldo insuficiente"}`, OutcomeDeclined},
		{"success without marker", `{"success":"pendente"}`, OutcomeDeclined},
		{"success as bool", `{"success":true}`, OutcomeDeclined},
		{"json array", `["sucesso"]`, OutcomeDeclined},
		{"html error page", `<html><body>502 Bad Gateway</body></html>`, OutcomeAmbiguous},
		{"empty body", ``, OutcomeAmbiguous},
		{"truncated json", `{"success":"suc`, OutcomeAmbiguous},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Interpret([]byte(tc.body)); got != tc.want {
				t.Fatalf("Interpret(%q) = %s, want %s", tc.body, got, tc.want)
			}
		})
	}
}
