package oops

func Broken( {
