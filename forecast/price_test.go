package forecast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const samplePriceXML = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:0">
    <mRID>1</mRID>
    <revisionNumber>1</revisionNumber>
    <type>A44</type>
    <sender_MarketParticipant.mRID codingScheme="A01">10X1001A1001A450</sender_MarketParticipant.mRID>
    <sender_MarketParticipant.marketRole.type>A32</sender_MarketParticipant.marketRole.type>
    <receiver_MarketParticipant.mRID codingScheme="A01">10X1001A1001A450</receiver_MarketParticipant.mRID>
    <receiver_MarketParticipant.marketRole.type>A33</receiver_MarketParticipant.marketRole.type>
    <createdDateTime>2026-07-30T21:00:00Z</createdDateTime>
    <period.timeInterval>
        <start>2026-07-30T22:00Z</start>
        <end>2026-07-31T21:00Z</end>
    </period.timeInterval>
    <TimeSeries>
        <mRID>1</mRID>
        <businessType>A62</businessType>
        <in_Domain.mRID codingScheme="A01">10Y1001A1001A83F</in_Domain.mRID>
        <out_Domain.mRID codingScheme="A01">10Y1001A1001A83F</out_Domain.mRID>
        <currency_Unit.name>EUR</currency_Unit.name>
        <price_Measure_Unit.name>MWH</price_Measure_Unit.name>
        <curveType>A01</curveType>
        <Period>
            <timeInterval>
                <start>2026-07-30T22:00Z</start>
                <end>2026-07-31T21:00Z</end>
            </timeInterval>
            <resolution>PT1H</resolution>
            <Point>
                <position>1</position>
                <price.amount>250.00</price.amount>
            </Point>
            <Point>
                <position>2</position>
                <price.amount>180.00</price.amount>
            </Point>
            <Point>
                <position>3</position>
                <price.amount>90.00</price.amount>
            </Point>
        </Period>
    </TimeSeries>
</Publication_MarketDocument>`

func priceServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
}

func TestPriceSource_RefreshAndAvailable(t *testing.T) {
	server := priceServer(t, samplePriceXML)
	defer server.Close()

	ps := NewPriceSource(server.URL, "energy-optimizer-test/1.0", time.Hour)
	if ps.Available() {
		t.Fatal("expected Available() to be false before the first Refresh")
	}

	if err := ps.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if !ps.Available() {
		t.Error("expected Available() to be true after a successful Refresh")
	}
}

func TestPriceSource_Points(t *testing.T) {
	server := priceServer(t, samplePriceXML)
	defer server.Close()

	ps := NewPriceSource(server.URL, "energy-optimizer-test/1.0", time.Hour)
	start := time.Date(2026, 7, 30, 22, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	points, err := ps.Points(context.Background(), start, end)
	if err != nil {
		t.Fatalf("Points() failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Start.Before(points[i-1].Start) {
			t.Error("expected points sorted ascending by start time")
		}
	}
	if points[0].MarketPriceMWh != 250.0 {
		t.Errorf("points[0].MarketPriceMWh = %v, want 250.0", points[0].MarketPriceMWh)
	}
}

func TestPriceSource_PriceAt(t *testing.T) {
	server := priceServer(t, samplePriceXML)
	defer server.Close()

	ps := NewPriceSource(server.URL, "energy-optimizer-test/1.0", time.Hour)
	at := time.Date(2026, 7, 30, 22, 30, 0, 0, time.UTC)

	price, found, err := ps.PriceAt(context.Background(), at)
	if err != nil {
		t.Fatalf("PriceAt() failed: %v", err)
	}
	if !found {
		t.Fatal("expected a price to be found within the published interval")
	}
	if price != 250.0 {
		t.Errorf("price = %v, want 250.0", price)
	}
}

func TestPriceSource_InvalidURLFailsRefresh(t *testing.T) {
	ps := NewPriceSource("", "energy-optimizer-test/1.0", time.Hour)
	if err := ps.Refresh(context.Background()); err == nil {
		t.Error("expected Refresh() to fail with an empty API URL")
	}
}

func TestPriceSource_CacheAvoidsRefetch(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(samplePriceXML))
	}))
	defer server.Close()

	ps := NewPriceSource(server.URL, "energy-optimizer-test/1.0", time.Hour)
	ctx := context.Background()
	if _, err := ps.Points(ctx, time.Now(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("first Points() failed: %v", err)
	}
	if _, err := ps.Points(ctx, time.Now(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("second Points() failed: %v", err)
	}
	if requests != 1 {
		t.Errorf("expected a single fetch within the cache TTL, got %d requests", requests)
	}
}
