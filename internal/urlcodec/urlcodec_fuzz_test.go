package urlcodec

import (
	"reflect"
	"testing"
)

func FuzzRoundTrip(f *testing.F) {
	f.Add("filter_category=1,2&filter_brand=acme")
	f.Add("filter_price[min]=10&filter_price[max]=20")
	f.Add("filter_tag=a%26b&filter_tag=c&s=x")
	f.Add("filter_x[min]=1,2&filter_x=3")
	f.Add("filter_bad-id=1;filter_ok=%zz")

	f.Fuzz(func(t *testing.T, raw string) {
		decoded := Decode(raw)

		encoded, err := Encode(decoded)
		if err != nil {
			t.Fatalf("Encode(Decode(%q)) error = %v", raw, err)
		}
		again := Decode(encoded)
		if !reflect.DeepEqual(decoded, again) {
			t.Fatalf("round trip of %q: %#v != %#v (encoded %q)", raw, decoded, again, encoded)
		}

		reencoded, err := Encode(again)
		if err != nil || reencoded != encoded {
			t.Fatalf("Encode() not stable: %q vs %q (err %v)", encoded, reencoded, err)
		}
	})
}
