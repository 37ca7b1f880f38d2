package view

import (
	"errors"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/catnip/internal/models"
)

// Cat ages accepted by the add and edit forms.
const (
	MinAge = 0
	MaxAge = 30
)

// CatForm is the raw input of the add and edit forms.
type CatForm struct {
	Name  string `json:"name"`
	Age   string `json:"age"`
	Breed string `json:"breed"`
}

// FormFromCat fills a form with the fields of c.
func FormFromCat(c models.Cat) CatForm {
	return CatForm{Name: c.Name, Age: strconv.Itoa(c.Age), Breed: c.Breed}
}

// Validate validates the form.
func (f *CatForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Age, validation.Required, validation.By(ageInRange)),
		validation.Field(&f.Breed, validation.Required),
	)
}

// Draft validates the form and converts it.
func (f CatForm) Draft() (models.CatDraft, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.Age = strings.TrimSpace(f.Age)
	f.Breed = strings.TrimSpace(f.Breed)
	if err := f.Validate(); err != nil {
		return models.CatDraft{}, err
	}
	age, _ := strconv.Atoi(f.Age)
	return models.CatDraft{Name: f.Name, Age: age, Breed: f.Breed}, nil
}

func ageInRange(value any) error {
	s, _ := value.(string)
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("must be a whole number")
	}
	if n < MinAge || n > MaxAge {
		return errors.New("must be between 0 and 30")
	}
	return nil
}

type authForm struct {
	Email    string
	Password string
}

func (f *authForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Email, validation.Required),
		validation.Field(&f.Password, validation.Required),
	)
}
