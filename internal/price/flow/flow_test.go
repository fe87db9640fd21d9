package flow

import "testing"

func TestParseStrictArray(t *testing.T) {
	p, err := Parse(`[1.1, 2.2, 3.3]`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.PricesByHour) != 3 || p.PricesByHour[0] != 1.1 || p.PricesByHour[2] != 3.3 {
		t.Fatalf("unexpected result: %+v", p.PricesByHour)
	}
}

func TestParseStrictObject(t *testing.T) {
	p, err := Parse(`{"0": 1.5, "1": 2.5}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.PricesByHour[0] != 1.5 || p.PricesByHour[1] != 2.5 {
		t.Fatalf("unexpected result: %+v", p.PricesByHour)
	}
}

func TestParseLenientSingleQuotesAndTrailingComma(t *testing.T) {
	p, err := Parse(`{'0': 1.5, '1': 2.5,}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.PricesByHour[0] != 1.5 || p.PricesByHour[1] != 2.5 {
		t.Fatalf("unexpected result: %+v", p.PricesByHour)
	}
}

func TestParseLenientArrayTrailingComma(t *testing.T) {
	p, err := Parse(`[1, 2, 3,]`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.PricesByHour) != 3 {
		t.Fatalf("unexpected result: %+v", p.PricesByHour)
	}
}

func TestBuildFlowEntriesRoundTrip(t *testing.T) {
	raw := `{"0": 1.25, "5": 2.5, "23": 0.75}`
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	serialized, err := SerializeByHour(p.PricesByHour)
	if err != nil {
		t.Fatalf("SerializeByHour: %v", err)
	}

	reparsed, err := Parse(serialized)
	if err != nil {
		t.Fatalf("Parse(serialized): %v", err)
	}

	if len(reparsed.PricesByHour) != len(p.PricesByHour) {
		t.Fatalf("round trip changed hour count: %+v vs %+v", p.PricesByHour, reparsed.PricesByHour)
	}
	for hour, price := range p.PricesByHour {
		if reparsed.PricesByHour[hour] != price {
			t.Fatalf("round trip changed hour %d: %v != %v", hour, price, reparsed.PricesByHour[hour])
		}
	}
}
