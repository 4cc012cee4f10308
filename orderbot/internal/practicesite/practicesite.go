// CLAUDE:SUMMARY Local stand-in for the robot order site (chi router): order form page and orders CSV, used by browser tests.
// Package practicesite serves a local copy of the robot order workflow:
// the acknowledgement modal, the order form, a receipt after submission
// and an orders CSV. It lets the real-browser tests run without network.
package practicesite

import (
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options tunes the served site.
type Options struct {
	// FailFirst is the number of clicks on #order per order that show a
	// server error instead of the receipt.
	FailFirst int
	// Orders is served at /orders.csv.
	Orders string
}

// Handler returns the site router.
//
//	GET /            order form
//	GET /orders.csv  Options.Orders as text/csv
func Handler(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NoCache)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := page.Execute(w, opts); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	r.Get("/orders.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		fmt.Fprint(w, opts.Orders)
	})
	return r
}

// New starts the site on a loopback listener closed at test cleanup.
func New(t testing.TB, opts Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(Handler(opts))
	t.Cleanup(srv.Close)
	return srv
}

var page = template.Must(template.New("order").Parse(`<!DOCTYPE html>
<html><head><title>Build and order your robot!</title></head>
<body>
<div class="modal" id="modal">
  <p>By using this order form, I give up all my constitutional rights.</p>
  <button type="button" onclick="hideModal()">OK</button>
  <button type="button">No way</button>
</div>
<form id="robot-form" onsubmit="return false">
  <select id="head">
    <option value="">-- Choose a head --</option>
    <option value="1">Roll-a-thor head</option>
    <option value="2">Peanut crusher head</option>
    <option value="3">D.A.V.E head</option>
    <option value="4">Andy Roid head</option>
    <option value="5">Spanner mate head</option>
    <option value="6">Drillbit 2000 head</option>
  </select>
  <input type="radio" name="body" id="id-body-1" value="1">
  <input type="radio" name="body" id="id-body-2" value="2">
  <input type="radio" name="body" id="id-body-3" value="3">
  <input type="radio" name="body" id="id-body-4" value="4">
  <input type="radio" name="body" id="id-body-5" value="5">
  <input type="radio" name="body" id="id-body-6" value="6">
  <input type="number" id="legs" placeholder="Enter the part number for the legs">
  <input type="text" id="address" placeholder="Shipping address">
  <button type="button" id="order" onclick="order()">Order</button>
</form>
<div id="error" class="alert alert-danger" style="display:none">External Server Error</div>
<div id="order-completion" style="display:none">
  <h3>Receipt</h3>
  <p id="receipt-number" class="badge badge-success"></p>
  <div id="parts"></div>
</div>
<button type="button" id="order-another" style="display:none" onclick="another()">Order another robot</button>
<script>
var failFirst = {{.FailFirst}};
var attempts = 0;
var seq = 0;
function $(id) { return document.getElementById(id); }
function hideModal() { $('modal').style.display = 'none'; }
function order() {
  attempts++;
  if (attempts <= failFirst) {
    $('error').style.display = 'block';
    return;
  }
  seq++;
  var body = document.querySelector('input[name=body]:checked');
  $('error').style.display = 'none';
  $('robot-form').style.display = 'none';
  $('receipt-number').textContent = 'RSB-ROBO-ORDER-' + seq;
  $('parts').textContent = 'Head: ' + $('head').value +
    ' Body: ' + (body ? body.value : '') +
    ' Legs: ' + $('legs').value +
    ' Address: ' + $('address').value;
  $('order-completion').style.display = 'block';
  $('order-another').style.display = 'block';
}
function another() {
  attempts = 0;
  $('robot-form').reset();
  $('robot-form').style.display = 'block';
  $('order-completion').style.display = 'none';
  $('order-another').style.display = 'none';
  $('modal').style.display = 'block';
}
</script>
</body></html>
`))
