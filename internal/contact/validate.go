package contact

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

const (
	maxNameLength  = 50
	maxExtraLength = 255
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

var errNotNullable = errors.New("cannot be null")

func nameRules() []validation.Rule {
	return []validation.Rule{validation.Required, validation.Length(1, maxNameLength)}
}

func emailRules() []validation.Rule {
	return []validation.Rule{validation.Required, is.Email}
}

func phoneRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Match(phonePattern).Error("must be 10 to 15 digits with an optional leading +"),
		validation.By(internationalNumber),
	}
}

func birthdayRules() []validation.Rule {
	return []validation.Rule{validation.Required, validation.Date(dateLayout).Error("must be a date in YYYY-MM-DD format")}
}

func extraRules() []validation.Rule {
	return []validation.Rule{validation.Length(0, maxExtraLength)}
}

// internationalNumber requires a +-prefixed phone to carry a known country
// calling code.
func internationalNumber(value interface{}) error {
	phone, _ := value.(string)
	if !strings.HasPrefix(phone, "+") {
		return nil
	}
	if _, err := phonenumbers.Parse(phone, ""); err != nil {
		return errors.New("must be a valid international phone number")
	}
	return nil
}

func (in Input) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, nameRules()...),
		validation.Field(&in.Surname, nameRules()...),
		validation.Field(&in.Email, emailRules()...),
		validation.Field(&in.Phone, phoneRules()...),
		validation.Field(&in.Birthday, birthdayRules()...),
		validation.Field(&in.Extra, extraRules()...),
	)
}

// Validate checks only the keys present in the patch. Every field except
// extra rejects an explicit null.
func (p Patch) Validate() error {
	errs := validation.Errors{}
	check := func(key string, field Field[string], nullable bool, rules []validation.Rule) {
		if !field.Set {
			return
		}
		if field.Null {
			if !nullable {
				errs[key] = errNotNullable
			}
			return
		}
		if err := validation.Validate(field.Value, rules...); err != nil {
			errs[key] = err
		}
	}

	check("name", p.Name, false, nameRules())
	check("surname", p.Surname, false, nameRules())
	check("email", p.Email, false, emailRules())
	check("phone", p.Phone, false, phoneRules())
	check("birthday", p.Birthday, false, birthdayRules())
	check("extra", p.Extra, true, extraRules())

	return errs.Filter()
}
